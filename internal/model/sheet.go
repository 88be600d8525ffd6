package model

// SheetSegment is a named slice of a multi-sheet document. It is produced
// by segmentation and consumed once per run; it is never persisted.
type SheetSegment struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Content string `json:"content"`
}
