package model

// Company is a portfolio company row from the records store.
type Company struct {
	RecordID         string `json:"record_id"`
	Name             string `json:"name"`
	Stage            string `json:"stage,omitempty"`
	Sector           string `json:"sector,omitempty"`
	LeadPartner      string `json:"lead_partner,omitempty"`
	LastBoardMeeting string `json:"last_board_meeting,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// PortfolioCompanyRef points at a record; it is not the record itself.
type PortfolioCompanyRef struct {
	CanonicalName string `json:"canonical_name"`
	RecordID      string `json:"record_id"`
	ChannelID     string `json:"channel_id,omitempty"`
	Sector        string `json:"sector,omitempty"`
	Stage         string `json:"stage,omitempty"`
}

// Document is structured content handed to the document service.
type Document struct {
	Title    string
	Preamble string
	Sections []DocumentSection
}

type DocumentSection struct {
	Heading string
	Lines   []string
	Body    string
}
