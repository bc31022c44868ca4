package index

// Posting records how often a term occurs in one document.
type Posting struct {
	DocID     int `json:"doc_id"`
	Frequency int `json:"tf"`
}

// PostingList holds at most one Posting per document, in insertion order.
type PostingList []Posting

type TermEntry struct {
	Term     string      `json:"term"`
	Position int         `json:"pos"`
	Postings PostingList `json:"docs"`
}

// Clone returns a copy of e whose postings do not share storage with e.
func (e TermEntry) Clone() TermEntry {
	e.Postings = append(PostingList(nil), e.Postings...)
	return e
}

// DocFreq returns the number of documents containing the term.
func (e TermEntry) DocFreq() int {
	return len(e.Postings)
}
