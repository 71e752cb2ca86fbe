package service

import "github.com/dimonss/AccountingForRepairsBackend/internal/model"

// Authorize allows p when its role is one of allowed.  A nil principal is
// ErrAuthenticationRequired, a principal with any other role is
// ErrInsufficientPermissions.
func Authorize(p *model.Principal, allowed ...model.Role) error {
	if p == nil {
		return ErrAuthenticationRequired
	}
	for _, r := range allowed {
		if p.Role == r {
			return nil
		}
	}
	return ErrInsufficientPermissions
}
