package main

import "sort"

type CategoryStat struct {
	Name  Category `json:"name"`
	Code  string   `json:"code"`
	Count int      `json:"count"`
	Color string   `json:"color"`
}

type DashboardStats struct {
	TotalReports  int            `json:"totalReports"`
	Resolved      int            `json:"resolved"`
	InProgress    int            `json:"inProgress"`
	Pending       int            `json:"pending"`
	CategoryStats []CategoryStat `json:"categoryStats"`
}

// computeDashboardStats counts accepted reports as in progress. Categories
// are sorted by count, ties keep display order.
func computeDashboardStats(reports []Report) DashboardStats {
	stats := DashboardStats{TotalReports: len(reports)}
	counts := make(map[Category]int, len(categoryOrder))
	for _, report := range reports {
		counts[report.Category]++
		switch report.Status {
		case StatusResolved:
			stats.Resolved++
		case StatusAccepted:
			stats.InProgress++
		case StatusPending:
			stats.Pending++
		}
	}

	stats.CategoryStats = make([]CategoryStat, 0, len(categoryOrder))
	for _, category := range categoryOrder {
		stats.CategoryStats = append(stats.CategoryStats, CategoryStat{
			Name:  category,
			Code:  category.Code(),
			Count: counts[category],
			Color: categoryColors[category],
		})
	}
	sort.SliceStable(stats.CategoryStats, func(i, j int) bool {
		return stats.CategoryStats[i].Count > stats.CategoryStats[j].Count
	})
	return stats
}
