package identity

import (
	"github.com/lanshare/lanshare/internal/catalog"
	"github.com/lanshare/lanshare/internal/metrics"
)

// CanMutate decides whether the actor may rename or delete the record.
//
// Precedence: admins always may; otherwise the strongest ownership field
// present on the record decides alone, owner id over owner username over
// owner IP. The address never overrides a credential mismatch: two users
// behind the same NAT must not be able to touch each other's uploads. A
// record with no ownership fields at all is mutable only by admins.
func CanMutate(actor Actor, rec catalog.FileRecord) bool {
	allowed := canMutate(actor, rec)
	metrics.RecordPermissionCheck(allowed)
	return allowed
}

func canMutate(actor Actor, rec catalog.FileRecord) bool {
	if actor.IsAdmin() {
		return true
	}
	creds := actor.Credentials
	if rec.OwnerID != "" {
		return creds != nil && creds.ID == rec.OwnerID
	}
	if rec.OwnerUsername != "" {
		return creds != nil && creds.Username == rec.OwnerUsername
	}
	if rec.OwnerIP != "" {
		return actor.IP == rec.OwnerIP
	}
	return false
}
