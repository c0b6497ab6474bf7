package main

import (
	"context"
	"fmt"
	"html"
	"strings"

	"safecitymap/libs/mailer"
)

func buildModerationAlert(report Report, recipients []string, publicBaseURL string) mailer.Message {
	subject := fmt.Sprintf("Новое обращение на модерации: %s", report.Title)

	var text strings.Builder
	fmt.Fprintf(&text, "Категория: %s\n", report.Category)
	fmt.Fprintf(&text, "Адрес: %s\n", report.Title)
	fmt.Fprintf(&text, "Координаты: %.5f, %.5f\n", report.Coords.Lat(), report.Coords.Lng())
	fmt.Fprintf(&text, "Описание: %s\n", report.Description)
	if report.Image != nil {
		fmt.Fprintf(&text, "Фото: %s\n", *report.Image)
	}
	fmt.Fprintf(&text, "\nПанель модерации: %s\n", strings.TrimRight(publicBaseURL, "/")+"/#admin")

	htmlBody := fmt.Sprintf(
		`<p><strong>%s</strong>: %s</p><p>%s</p><p>%.5f, %.5f</p>`,
		html.EscapeString(string(report.Category)),
		html.EscapeString(report.Title),
		html.EscapeString(report.Description),
		report.Coords.Lat(),
		report.Coords.Lng(),
	)

	return mailer.Message{
		To:      recipients,
		Subject: subject,
		HTML:    htmlBody,
		Text:    text.String(),
	}
}

// sendModerationAlert tells moderators about a new pending report. Delivery
// problems are logged and never fail the submission.
func (a *App) sendModerationAlert(ctx context.Context, report Report) {
	if a.mailer == nil || len(a.cfg.ModerationEmailTo) == 0 {
		return
	}
	msg := buildModerationAlert(report, a.cfg.ModerationEmailTo, a.cfg.PublicBaseURL)
	result, err := a.mailer.Send(ctx, msg)
	if err != nil {
		a.log.Error("failed to send moderation alert", "report_id", report.ID, "err", err)
		return
	}
	a.log.Info("moderation alert sent", "report_id", report.ID, "provider", a.mailer.ProviderName(), "message_id", result.ProviderMessageID)
}
