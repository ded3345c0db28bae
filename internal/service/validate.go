package service

import (
	"net/mail"
	"slices"
	"strings"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

const maxFieldLength = 200

// Validator checks and normalises registration candidates.
type Validator struct {
	internalDomain       string
	internalOrganisation string
	departments          []string
}

// NewValidator returns a Validator. Internal candidates must use an address
// at internalDomain and pick one of departments.
func NewValidator(internalDomain, internalOrganisation string, departments []string) *Validator {
	return &Validator{
		internalDomain:       strings.ToLower(strings.TrimPrefix(strings.TrimSpace(internalDomain), "@")),
		internalOrganisation: internalOrganisation,
		departments:          departments,
	}
}

// Departments lists the departments internal candidates can choose from.
func (v *Validator) Departments() []string {
	return slices.Clone(v.departments)
}

// Validate trims and lower-cases the candidate in place and reports every
// problem found as a *ValidationError.
func (v *Validator) Validate(c *model.Candidate) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Name = strings.TrimSpace(c.Name)
	c.Organisation = strings.TrimSpace(c.Organisation)
	c.Department = strings.TrimSpace(c.Department)

	verr := &ValidationError{}

	switch {
	case c.Email == "":
		verr.add("email", "is required")
	case !isValidEmail(c.Email):
		verr.add("email", "is not a valid email address")
	case c.IsInternal && !strings.HasSuffix(c.Email, "@"+v.internalDomain):
		verr.add("email", "must be an @"+v.internalDomain+" address")
	}

	if c.Name == "" {
		verr.add("name", "is required")
	} else if len(c.Name) > maxFieldLength {
		verr.add("name", "is too long")
	}
	if len(c.Organisation) > maxFieldLength {
		verr.add("organisation", "is too long")
	}

	if c.IsInternal {
		if c.Organisation == "" {
			c.Organisation = v.internalOrganisation
		}
		switch {
		case c.Department == "":
			verr.add("department", "is required")
		case !slices.Contains(v.departments, c.Department):
			verr.add("department", "is not a known department")
		}
	} else if c.Organisation == "" {
		verr.add("organisation", "is required")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// isValidEmail accepts a bare addr-spec with a dotted domain.
func isValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}
