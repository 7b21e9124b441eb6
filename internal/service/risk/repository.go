package risk

import (
	"context"
	"time"

	"github.com/fitflow/retention/internal/domain"
)

// Repository defines the data access contract for risk scoring.
// Implementations must be safe for concurrent use; UpsertScore in particular
// is called from multiple workers, each for a distinct member.
type Repository interface {
	// GetMember returns one member. Returns ErrMemberNotFound if it doesn't exist.
	GetMember(ctx context.Context, orgID, memberID string) (*domain.Member, error)

	// ListActiveMembers returns up to limit active members ordered by id,
	// starting strictly after afterID. An empty afterID starts from the
	// beginning.
	ListActiveMembers(ctx context.Context, orgID, afterID string, limit int) ([]domain.Member, error)

	// LoadSignals assembles the scoring inputs for one member: last check-in,
	// lifetime check-in count, no-show bookings within the trailing
	// noShowWindowDays, the oldest overdue payment, and whether an unresolved
	// freeze request exists.
	LoadSignals(ctx context.Context, orgID, memberID string, noShowWindowDays int, now time.Time) (*domain.MemberSignals, error)

	// GetScore returns the member's current score. Returns ErrNotFound if the
	// member has never been scored.
	GetScore(ctx context.Context, orgID, memberID string) (*domain.RiskScore, error)

	// UpsertScore writes the member's current score. If a prior score exists
	// it is copied into the snapshot history in the same transaction before
	// being overwritten, and its value is returned; nil means this was the
	// member's first scoring pass.
	UpsertScore(ctx context.Context, score *domain.RiskScore) (*int, error)

	// ListTopScores returns current scores ordered by score descending, ties
	// broken by most recent calculated_at.
	ListTopScores(ctx context.Context, orgID string, limit int) ([]domain.RiskScore, error)

	// ListScoreValues returns every current score value for the organization.
	ListScoreValues(ctx context.Context, orgID string) ([]int, error)

	// GetSettings returns the organization's retention settings. Returns
	// ErrNotFound when the organization has never customized them.
	GetSettings(ctx context.Context, orgID string) (*domain.RetentionSettings, error)

	// SaveSettings upserts the organization's retention settings.
	SaveSettings(ctx context.Context, settings *domain.RetentionSettings) error
}
