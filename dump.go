package bookaware

// PageDumper keeps copies of fetched pages for troubleshooting a failed login flow.
type PageDumper interface {
	Dump(stage, url string, body []byte)
}
