package gemini

import (
	"sync/atomic"
	"time"
)

// Document is a corpus file registered with the Files API.
type Document struct {
	Name           string
	DisplayName    string
	URI            string
	MIMEType       string
	CreateTime     time.Time
	ExpirationTime time.Time
	SHA256         string
}

// DocumentSet holds the documents answers are grounded on. Readers take a
// snapshot; a reload replaces the whole slice at once.
type DocumentSet struct {
	docs atomic.Pointer[[]Document]
}

func (s *DocumentSet) Snapshot() []Document {
	p := s.docs.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (s *DocumentSet) Replace(docs []Document) {
	cp := make([]Document, len(docs))
	copy(cp, docs)
	s.docs.Store(&cp)
}

func (s *DocumentSet) Len() int {
	return len(s.Snapshot())
}
