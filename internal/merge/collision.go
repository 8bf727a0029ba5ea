package merge

import (
	"time"

	"intake/internal/registration/models"
	"intake/pkg/domain"
)

// reconcileHousehold folds an incoming staging household into the golden
// household already carrying its identification key. Only the allow-listed
// fields below transfer; everything else on the retained household stays
// untouched.
//
// Relation strategies:
//   - members: incoming individuals re-point to the retained household
//     (handled by the caller).
//   - roles: an incoming collector displaces the retained one per role.
//   - size: recomputed by the caller after members move.
func reconcileHousehold(retained, incoming *models.Household, now time.Time) bool {
	changed := false

	// Contact fields: the newer registration wins when it has a value.
	if incoming.Address != "" && incoming.Address != retained.Address {
		retained.Address = incoming.Address
		changed = true
	}
	if incoming.AdminArea != "" && incoming.AdminArea != retained.AdminArea {
		retained.AdminArea = incoming.AdminArea
		changed = true
	}
	if incoming.CountryCode != "" && incoming.CountryCode != retained.CountryCode {
		retained.CountryCode = incoming.CountryCode
		changed = true
	}

	for role, holder := range incoming.Roles {
		if retained.Roles == nil {
			retained.Roles = make(map[string]domain.IndividualID, len(incoming.Roles))
		}
		if retained.Roles[role] != holder {
			retained.Roles[role] = holder
			changed = true
		}
	}

	if changed {
		retained.UpdatedAt = now
	}
	return changed
}
