package main

// CategoryFilter is the set of categories currently shown on the map.
type CategoryFilter map[Category]struct{}

func newCategoryFilter() CategoryFilter {
	filter := make(CategoryFilter, len(categoryOrder))
	for _, category := range categoryOrder {
		filter[category] = struct{}{}
	}
	return filter
}

func (f CategoryFilter) Contains(category Category) bool {
	_, ok := f[category]
	return ok
}

// Toggle flips membership of category and reports whether it is now active.
func (f CategoryFilter) Toggle(category Category) bool {
	if f.Contains(category) {
		delete(f, category)
		return false
	}
	f[category] = struct{}{}
	return true
}

// Active lists active categories in display order.
func (f CategoryFilter) Active() []Category {
	out := make([]Category, 0, len(f))
	for _, category := range categoryOrder {
		if f.Contains(category) {
			out = append(out, category)
		}
	}
	return out
}

func (f CategoryFilter) Clone() CategoryFilter {
	out := make(CategoryFilter, len(f))
	for category := range f {
		out[category] = struct{}{}
	}
	return out
}

func filterReportsByCategory(reports []Report, filter CategoryFilter) []Report {
	out := make([]Report, 0, len(reports))
	for _, report := range reports {
		if filter.Contains(report.Category) {
			out = append(out, report)
		}
	}
	return out
}

func filterReportsByAuthor(reports []Report, author string) []Report {
	out := make([]Report, 0)
	for _, report := range reports {
		if report.Author == author {
			out = append(out, report)
		}
	}
	return out
}
