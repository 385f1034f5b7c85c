// File: internal/fill/address.go
package fill

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
	"github.com/xkilldash9x/autofill-cli/internal/recovery"
)

// AddressRole is the part of an address a key carries.
type AddressRole string

const (
	RolePostcode    AddressRole = "postcode"
	RoleHouseNumber AddressRole = "house-number"
	RoleAddition    AddressRole = "addition"
	RoleStreet      AddressRole = "street"
	RoleCity        AddressRole = "city"
)

var addressRoles = map[string]AddressRole{
	"postcode":             RolePostcode,
	"postalcode":           RolePostcode,
	"zip":                  RolePostcode,
	"zipcode":              RolePostcode,
	"huisnummer":           RoleHouseNumber,
	"housenumber":          RoleHouseNumber,
	"toevoeging":           RoleAddition,
	"huisnummertoevoeging": RoleAddition,
	"addition":             RoleAddition,
	"housenumbersuffix":    RoleAddition,
	"straat":               RoleStreet,
	"straatnaam":           RoleStreet,
	"street":               RoleStreet,
	"plaats":               RoleCity,
	"woonplaats":           RoleCity,
	"city":                 RoleCity,
}

// AddressRoleOf reports the address role of key, ignoring case and
// separators.
func AddressRoleOf(key schemas.FieldKey) (AddressRole, bool) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(string(key)))
	role, ok := addressRoles[norm]
	return role, ok
}

// derived reports whether the page may fill the role itself from the
// trigger fields.
func (r AddressRole) derived() bool {
	return r == RoleStreet || r == RoleCity
}

// AddressField is one resolved member of an address group. An empty
// Handle means the key was not found.
type AddressField struct {
	Key    schemas.FieldKey
	Role   AddressRole
	Value  schemas.FieldValue
	Handle Handle
}

// AddressOutcome is what happened to one member of the group.
type AddressOutcome struct {
	Key        schemas.FieldKey
	Filled     bool
	SkipReason string
	Err        error
}

// MemberFiller fills one resolved member of an address group.
type MemberFiller func(ctx context.Context, f AddressField) AddressOutcome

// FillAddressGroup fills postcode, house number and addition first, waits
// for the page to derive street and city, and fills those only if they are
// still empty. Without a resolved postcode and house number every resolved
// member is filled independently. A failure on one member never stops the
// others. A nil fill populates each member once.
func (p *Populator) FillAddressGroup(ctx context.Context, fields []AddressField, settle func(context.Context), fill MemberFiller) []AddressOutcome {
	if fill == nil {
		fill = p.fillMember
	}
	outcomes := make([]AddressOutcome, 0, len(fields))
	var triggers, derived []AddressField
	havePostcode, haveNumber := false, false
	for _, f := range fields {
		if f.Handle.Empty() {
			outcomes = append(outcomes, AddressOutcome{Key: f.Key, Err: recovery.NotFound(f.Key)})
			continue
		}
		switch f.Role {
		case RolePostcode:
			havePostcode = true
		case RoleHouseNumber:
			haveNumber = true
		}
		if f.Role.derived() {
			derived = append(derived, f)
		} else {
			triggers = append(triggers, f)
		}
	}

	if !havePostcode || !haveNumber {
		p.logger.Info("Address trigger fields missing, filling members independently.",
			zap.Bool("postcode", havePostcode), zap.Bool("house_number", haveNumber))
		for _, f := range append(triggers, derived...) {
			outcomes = append(outcomes, fill(ctx, f))
		}
		return outcomes
	}

	for _, f := range triggers {
		outcomes = append(outcomes, fill(ctx, f))
	}
	if len(derived) == 0 {
		return outcomes
	}
	if settle != nil {
		settle(ctx)
	}

	for _, f := range derived {
		current, err := p.doc.Value(ctx, f.Handle.First().Ref)
		if err != nil {
			outcomes = append(outcomes, AddressOutcome{Key: f.Key, Err: err})
			continue
		}
		if strings.TrimSpace(current) != "" {
			p.logger.Debug("Address field derived by the page, keeping it.",
				zap.String("key", string(f.Key)), zap.String("value", current))
			outcomes = append(outcomes, AddressOutcome{Key: f.Key, SkipReason: "already populated by the page"})
			continue
		}
		outcomes = append(outcomes, fill(ctx, f))
	}
	return outcomes
}

func (p *Populator) fillMember(ctx context.Context, f AddressField) AddressOutcome {
	if err := p.PopulateField(ctx, f.Handle, f.Value); err != nil {
		p.logger.Warn("Failed to fill address field.", zap.String("key", string(f.Key)), zap.Error(err))
		return AddressOutcome{Key: f.Key, Err: err}
	}
	return AddressOutcome{Key: f.Key, Filled: true}
}
