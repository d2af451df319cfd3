package tickets

import (
	"regexp"
	"strings"

	"sunat-client/internal/shared/apierr"
)

// Parameter keys understood by the backend ticket API.
const (
	ParamPeriod      = "periodo"
	ParamFile        = "archivo"
	ParamFileType    = "tipo_archivo"
	ParamBookCode    = "cod_libro"
	ParamDeclaration = "num_declaracion"
)

var (
	rucPattern    = regexp.MustCompile(`^(10|15|16|17|20)\d{9}$`)
	periodPattern = regexp.MustCompile(`^\d{4}(0[1-9]|1[0-2])$`)
)

var requiredParams = map[OperationType][]string{
	OpDownloadDeclaration:     {ParamPeriod},
	OpAcceptDeclaration:       {ParamPeriod},
	OpReplaceDeclaration:      {ParamPeriod, ParamFile},
	OpRegisterPreliminary:     {ParamPeriod},
	OpDownloadInconsistencies: {ParamPeriod},
	OpGenerateSummary:         {ParamPeriod},
}

// Operations lists the closed set of operation types.
func Operations() []OperationType {
	return []OperationType{
		OpDownloadDeclaration,
		OpAcceptDeclaration,
		OpReplaceDeclaration,
		OpRegisterPreliminary,
		OpDownloadInconsistencies,
		OpGenerateSummary,
	}
}

// Valid reports whether op is a known operation type.
func (op OperationType) Valid() bool {
	_, ok := requiredParams[op]
	return ok
}

// ValidRUC reports whether ruc looks like an 11-digit taxpayer id.
func ValidRUC(ruc string) bool {
	return rucPattern.MatchString(ruc)
}

// ValidPeriod reports whether period is a YYYYMM fiscal period.
func ValidPeriod(period string) bool {
	return periodPattern.MatchString(period)
}

// CreateRequest holds the inputs of a new ticket.
type CreateRequest struct {
	OwnerID    string
	Operation  OperationType
	Parameters map[string]string
	Priority   Priority
}

// Normalize trims inputs and fills defaults.
func (r CreateRequest) Normalize() CreateRequest {
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	params := make(map[string]string, len(r.Parameters))
	for k, v := range r.Parameters {
		params[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	r.Parameters = params
	return r
}

// Validate checks the request before it is dispatched.
func (r CreateRequest) Validate() error {
	if !r.Operation.Valid() {
		return apierr.Validation("unknown operation type %q", r.Operation)
	}
	if r.OwnerID == "" {
		return apierr.Validation("ruc is required")
	}
	if !ValidRUC(r.OwnerID) {
		return apierr.Validation("ruc %q must be 11 digits", r.OwnerID)
	}
	switch r.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return apierr.Validation("priority %q must be low, normal or high", r.Priority)
	}
	var missing []string
	for _, key := range requiredParams[r.Operation] {
		if r.Parameters[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		e := apierr.Validation("missing parameters for %s: %s", r.Operation, strings.Join(missing, ", "))
		e.Details = missing
		return e
	}
	if p, ok := r.Parameters[ParamPeriod]; ok && !ValidPeriod(p) {
		return apierr.Validation("periodo %q must be YYYYMM", p)
	}
	return nil
}
