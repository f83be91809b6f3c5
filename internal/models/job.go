package models

// JobResult is created once when a job finishes and is not mutated after.
type JobResult struct {
	Success        bool            `json:"success"`
	Keyword        string          `json:"keyword"`
	PagesRequested int             `json:"pages_requested"`
	TotalProducts  int             `json:"total_products"`
	OutputPath     string          `json:"output_path"`
	Records        []ProductRecord `json:"records"`
	Error          string          `json:"error"`
}

func NewJobResult(keyword string, pages int, records []ProductRecord, outputPath string, err error) *JobResult {
	if records == nil {
		records = []ProductRecord{}
	}
	res := &JobResult{
		Success:        err == nil,
		Keyword:        keyword,
		PagesRequested: pages,
		TotalProducts:  len(records),
		OutputPath:     Or(outputPath, Unknown),
		Records:        records,
		Error:          Unknown,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
