package fakebackend

import "sunat-client/internal/ple"

// Demo book ids seeded by DemoBooks.
const (
	DemoCleanBook    = "68ad1d31c9e4f5a2b7d3e8f0"
	DemoWarningBook  = "68ad1d31c9e4f5a2b7d3e8f2"
	DemoCriticalBook = "68ad1d31c9e4f5a2b7d3e8f1"
	DemoRUC          = "20123456789"
)

// DemoBooks returns the books cmd/fakebackend starts with: one clean, one
// with a non-critical error and a warning, one with a critical SUNAT error.
func DemoBooks() []Book {
	records := []string{
		"20241200|M0001|2024-12-02|100.00|18.00|118.00",
		"20241200|M0002|2024-12-05|250.00|45.00|295.00",
	}
	return []Book{
		{
			Context: ple.Context{BookID: DemoCleanBook, BookCode: "140100", FiscalYear: 2024, Month: 12, RUC: DemoRUC, CompanyName: "COMERCIAL ANDINA SAC", Balanced: true},
			Validation: ple.ValidationResult{
				Valid:     true,
				Basic:     ple.BasicResult{Valid: true},
				Authority: ple.AuthorityResult{Valid: true},
			},
			Records: records,
		},
		{
			Context: ple.Context{BookID: DemoWarningBook, BookCode: "080100", FiscalYear: 2024, Month: 12, RUC: DemoRUC, CompanyName: "COMERCIAL ANDINA SAC", Balanced: true},
			Validation: ple.ValidationResult{
				Valid: false,
				Basic: ple.BasicResult{Valid: true},
				Authority: ple.AuthorityResult{
					Valid:    false,
					Errors:   []ple.Issue{{Code: "1021", Message: "Serie del comprobante con formato no estándar", Line: 2, Field: "serie"}},
					Warnings: []ple.Issue{{Code: "W201", Message: "Tipo de cambio no informado para moneda PEN"}},
				},
			},
			Records: records,
		},
		{
			Context: ple.Context{BookID: DemoCriticalBook, BookCode: "050100", FiscalYear: 2024, Month: 12, RUC: DemoRUC, CompanyName: "COMERCIAL ANDINA SAC", Balanced: false},
			Validation: ple.ValidationResult{
				Valid: false,
				Basic: ple.BasicResult{Valid: false, Errors: []string{"El libro diario no cuadra: debe 1,250.00 haber 1,200.00"}},
				Authority: ple.AuthorityResult{
					Valid:  false,
					Errors: []ple.Issue{{Code: "3282", Message: "La cuenta contable no existe en el plan de cuentas", Critical: true, Line: 14, Field: "cuenta"}},
				},
			},
			Records: records,
		},
	}
}

// WithDemoBooks seeds DemoBooks.
func WithDemoBooks() Option {
	return func(s *Server) {
		for _, b := range DemoBooks() {
			s.books[b.Context.BookID] = b
		}
	}
}
