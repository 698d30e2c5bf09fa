package models

import (
	"fmt"
	"net/url"
)

const (
	PatientSendURL    = "patients/send"
	PatientRequestURL = "patients/request"
)

// Patient is one locally tracked individual. Patients are created through the
// Handler and only mutated by its functions.
type Patient struct {
	Status           Status `json:"status"`
	IDAT             IDAT   `json:"idat"`
	MDAT             string `json:"mdat"`
	Pseudonym        string `json:"pseudonym,omitempty"`
	Sureness         bool   `json:"sureness"`
	Tentative        bool   `json:"tentative"`
	TokenURL         string `json:"tokenURL,omitempty"`
	TokenUseCallback *bool  `json:"tokenUseCallback,omitempty"`
}

func NewPatient(idat IDAT, mdat string) *Patient {
	return &Patient{Status: StatusCreated, IDAT: idat, MDAT: mdat}
}

// UsesCallback is true if the last token of the patient was issued with the
// callback function of the Mainzelliste. The pseudonym is the token id then.
func (p *Patient) UsesCallback() bool {
	return p.TokenUseCallback != nil && *p.TokenUseCallback
}

func (p *Patient) transition(to Status) {
	if p.Status == to {
		return
	}
	if !CanTransition(p.Status, to) {
		panic(fmt.Sprintf("invalid patient status transition %s -> %s", p.Status, to))
	}
	p.Status = to
}

// CurrentToken returns the token kept from the last rejected reconciliation.
func (p *Patient) CurrentToken() Token {
	return Token{URL: p.TokenURL, UseCallback: p.UsesCallback()}
}

// Pseudonymized is applied on a 201 response of the Mainzelliste. The token
// is used up, only its callback mode is remembered.
func (p *Patient) Pseudonymized(pseudonym string, tentative bool, token Token) {
	p.transition(StatusPseudonymized)
	p.Pseudonym = pseudonym
	p.Tentative = tentative
	p.TokenURL = ""
	p.TokenUseCallback = &token.UseCallback
}

// Rejected is applied on a 400 or 409 response. The token stays valid and is
// reused once the conflict is resolved.
func (p *Patient) Rejected(status Status, token Token) {
	p.transition(status)
	p.Pseudonym = ""
	p.Tentative = false
	p.TokenURL = token.URL
	p.TokenUseCallback = &token.UseCallback
}

// TokenExpired is applied on a 401 response.
func (p *Patient) TokenExpired() {
	p.transition(StatusTokenInvalid)
	p.Pseudonym = ""
	p.Tentative = false
	p.TokenURL = ""
	p.TokenUseCallback = nil
}

func (p *Patient) Processed(success bool) {
	if success {
		p.transition(StatusProcessed)
	} else {
		p.transition(StatusNotProcessed)
	}
}

func (p *Patient) Found(mdat string) {
	p.transition(StatusFound)
	p.MDAT = mdat
}

func (p *Patient) NotFound() {
	p.transition(StatusNotFound)
}

// ResetIdentity is applied when the IDAT of a pseudonymized patient changed.
func (p *Patient) ResetIdentity() {
	p.transition(StatusCreated)
	p.Pseudonym = ""
	p.Tentative = false
	p.TokenURL = ""
}

// ResetHandled moves a handled patient back so it can be sent or requested
// again after its MDAT changed.
func (p *Patient) ResetHandled() {
	if p.UsesCallback() {
		p.ResetIdentity()
		return
	}
	p.transition(StatusPseudonymized)
}

// Token is a single use token URL of the Mainzelliste.
type Token struct {
	URL         string
	UseCallback bool
}

// ID returns the tokenId query parameter of the token URL.
func (t Token) ID() string {
	return TokenIDFromURL(t.URL)
}

func TokenIDFromURL(tokenURL string) string {
	u, err := url.Parse(tokenURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("tokenId")
}
