package ple

import "time"

// Context is the accounting context a PLE book is generated for.
type Context struct {
	BookID      string `json:"bookId"`
	BookCode    string `json:"codigoLibro,omitempty"`
	FiscalYear  int    `json:"fiscalYear"`
	Month       int    `json:"month"`
	RUC         string `json:"ruc"`
	CompanyName string `json:"razonSocial,omitempty"`
	// Balanced reports whether debits and credits match for the period.
	Balanced bool `json:"cuadrado"`
}

// Issue is one authority-rule finding.
type Issue struct {
	Code     string `json:"codigo"`
	Message  string `json:"mensaje"`
	Critical bool   `json:"critico"`
	Line     int    `json:"linea,omitempty"`
	Field    string `json:"campo,omitempty"`
}

// BasicResult is the structural check.
type BasicResult struct {
	Valid    bool     `json:"valido"`
	Errors   []string `json:"errores"`
	Warnings []string `json:"advertencias"`
}

// AuthorityResult is the SUNAT-rule check.
type AuthorityResult struct {
	Valid    bool    `json:"valido"`
	Errors   []Issue `json:"errores"`
	Warnings []Issue `json:"advertencias"`
}

// ValidationResult combines both checks.
type ValidationResult struct {
	Valid     bool            `json:"valido"`
	Basic     BasicResult     `json:"validacionBasica"`
	Authority AuthorityResult `json:"validacionSunat"`
}

// ValidationFlags select which checks the backend runs.
type ValidationFlags struct {
	Structure  bool `json:"estructura"`
	SunatRules bool `json:"reglasSunat"`
}

// AllChecks runs every validation the backend offers.
var AllChecks = ValidationFlags{Structure: true, SunatRules: true}

// ErrorCount counts blocking findings across both checks.
func (v ValidationResult) ErrorCount() int {
	return len(v.Basic.Errors) + len(v.Authority.Errors)
}

// WarningCount counts advisory findings across both checks.
func (v ValidationResult) WarningCount() int {
	return len(v.Basic.Warnings) + len(v.Authority.Warnings)
}

// OK reports a clean validation: the backend said valid and listed no errors.
func (v ValidationResult) OK() bool {
	return v.Valid && v.ErrorCount() == 0
}

// ErrorMessages lists every blocking finding, authority errors first.
func (v ValidationResult) ErrorMessages() []string {
	out := make([]string, 0, v.ErrorCount())
	for _, is := range v.Authority.Errors {
		out = append(out, is.String())
	}
	return append(out, v.Basic.Errors...)
}

// WarningMessages lists every advisory finding.
func (v ValidationResult) WarningMessages() []string {
	out := make([]string, 0, v.WarningCount())
	for _, is := range v.Authority.Warnings {
		out = append(out, is.String())
	}
	return append(out, v.Basic.Warnings...)
}

// Headline is the message shown when validation blocks: the first critical
// authority error, then any authority error, then any structural error.
func (v ValidationResult) Headline() string {
	for _, is := range v.Authority.Errors {
		if is.Critical {
			return is.Message
		}
	}
	if len(v.Authority.Errors) > 0 {
		return v.Authority.Errors[0].Message
	}
	if len(v.Basic.Errors) > 0 {
		return v.Basic.Errors[0]
	}
	return "la validación no fue aprobada"
}

// Preview caps the lists for display while keeping the full counts.
type Preview struct {
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	ErrorCount   int      `json:"errorCount"`
	WarningCount int      `json:"warningCount"`
	Truncated    bool     `json:"truncated"`
}

// Preview returns at most n errors and n warnings.
func (v ValidationResult) Preview(n int) Preview {
	errs, warns := v.ErrorMessages(), v.WarningMessages()
	p := Preview{ErrorCount: len(errs), WarningCount: len(warns)}
	if n >= 0 && len(errs) > n {
		errs, p.Truncated = errs[:n], true
	}
	if n >= 0 && len(warns) > n {
		warns, p.Truncated = warns[:n], true
	}
	p.Errors, p.Warnings = errs, warns
	return p
}

func (is Issue) String() string {
	if is.Code == "" {
		return is.Message
	}
	return is.Code + ": " + is.Message
}

// GenerateOptions are sent with a generation request.
type GenerateOptions struct {
	// ValidateBeforeGenerate is always sent as true.
	ValidateBeforeGenerate bool `json:"validateBeforeGenerate"`
	// OperationsIndicator is 1 when the book has content, 0 for an empty book.
	OperationsIndicator *int `json:"operationsIndicator,omitempty"`
	// Confirmed records that the user accepted validation errors. Never sent.
	Confirmed bool `json:"-"`
}

// GenerateRequest is the body of POST /ple/generar.
type GenerateRequest struct {
	BookID     string          `json:"bookId"`
	FiscalYear int             `json:"fiscalYear"`
	Month      int             `json:"month"`
	Options    GenerateOptions `json:"options"`
}

// GenerateResult is the backend's answer to a generation request.
type GenerateResult struct {
	Success     bool     `json:"success"`
	FileName    string   `json:"fileName"`
	RecordCount int      `json:"recordCount"`
	Message     string   `json:"message,omitempty"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
}

// OK reports a generation that may proceed to download.
func (g GenerateResult) OK() bool {
	return g.Success && len(g.Errors) == 0
}

// File is a downloaded PLE archive plus what it contains.
type File struct {
	Name      string    `json:"name"`
	SizeBytes int       `json:"sizeBytes"`
	Data      []byte    `json:"-"`
	Archive   Archive   `json:"archive"`
	FetchedAt time.Time `json:"fetchedAt"`
}
