package models

// Project is one portfolio entry.
type Project struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	Logo        string `json:"logo"`
	Category    string `json:"category"`
}

// Column names used by the portfolio spreadsheet and the table_records JSON.
const (
	ColumnTitle       = "Título"
	ColumnDescription = "Descrição"
	ColumnLink        = "Link do site"
	ColumnLogo        = "Logo"
	ColumnCategory    = "Tipo"
)

// ContactRequest is the contact form submission.
type ContactRequest struct {
	Name    string `form:"nome" binding:"required"`
	Email   string `form:"email" binding:"required,email"`
	Company string `form:"empresa"`
	Message string `form:"mensagem" binding:"required"`
}
