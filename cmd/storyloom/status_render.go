package main

import (
	"fmt"
	"strings"

	"storyloom/internal/api"
)

func renderRunStatus(view api.RunView) string {
	var b strings.Builder

	rows := [][]string{
		{"Run", view.ID},
		{"Owner", view.OwnerRef},
		{"Phase", view.Phase},
		{"Retries", fmt.Sprintf("%d (user %d)", view.RetryCount, view.UserRetries)},
		{"Created", view.CreatedAt},
	}
	if view.CompletedAt != "" {
		rows = append(rows, []string{"Completed", view.CompletedAt})
	}
	if view.Error != nil {
		rows = append(rows, []string{"Error", fmt.Sprintf("%s in %s: %s", view.Error.Code, view.Error.Phase, view.Error.Message)})
	}
	if view.Artifact != nil {
		value := view.Artifact.Key
		if view.Artifact.URL != "" {
			value = view.Artifact.URL
		}
		rows = append(rows, []string{"Artifact", value})
	}
	b.WriteString(renderTable([]string{"Field", "Value"}, rows, nil))

	if len(view.Progress) > 0 {
		b.WriteString("\n")
		progressRows := make([][]string, 0, len(view.Progress))
		for _, p := range view.Progress {
			detail := p.Detail
			progressRows = append(progressRows, []string{
				p.Phase,
				fmt.Sprintf("%d/%d", p.Completed, p.Total),
				detail,
			})
		}
		b.WriteString(renderTable(
			[]string{"Stage", "Units", "Detail"},
			progressRows,
			[]columnAlignment{alignLeft, alignRight, alignLeft},
		))
	}
	return b.String()
}

func renderRunList(runs []api.RunView) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		errText := ""
		if r.Error != nil {
			errText = r.Error.Code
		}
		rows = append(rows, []string{r.ID, r.OwnerRef, r.Phase, fmt.Sprintf("%d", r.RetryCount), r.UpdatedAt, errText})
	}
	return renderTable(
		[]string{"ID", "Owner", "Phase", "Retries", "Updated", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}
