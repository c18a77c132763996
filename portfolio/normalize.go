package portfolio

import (
	"fmt"
	"net/url"
	"strings"

	"merlodigital/site/models"
)

const driveThumbnailURL = "https://drive.google.com/thumbnail?id=%s&sz=w1000"

// Normalize trims every field, drops rows without a title and rewrites
// Drive share links to embeddable image URLs.
func Normalize(rows []map[string]string) []models.Project {
	out := make([]models.Project, 0, len(rows))
	for _, raw := range rows {
		row := make(map[string]string, len(raw))
		for k, v := range raw {
			row[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		if row[models.ColumnTitle] == "" {
			continue
		}
		out = append(out, models.Project{
			Title:       row[models.ColumnTitle],
			Description: row[models.ColumnDescription],
			Link:        row[models.ColumnLink],
			Logo:        DriveImageURL(row[models.ColumnLogo]),
			Category:    row[models.ColumnCategory],
		})
	}
	return out
}

// DriveImageURL turns a Google Drive sharing link into a direct image URL.
// Anything else, including Drive links without a file id, is returned as is.
func DriveImageURL(link string) string {
	if !strings.Contains(link, "drive.google.com") {
		return link
	}
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if id := u.Query().Get("id"); id != "" {
		return fmt.Sprintf(driveThumbnailURL, url.QueryEscape(id))
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "d" && parts[i+1] != "" {
			return fmt.Sprintf(driveThumbnailURL, url.QueryEscape(parts[i+1]))
		}
	}
	return link
}
