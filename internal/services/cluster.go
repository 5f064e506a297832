package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/resonance-backend/internal/cache"
	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/repos"
	"github.com/yungbote/resonance-backend/internal/types"
)

// ClusterConfig are the formation engine's tunables.
type ClusterConfig struct {
	// TargetSize is the exact member count of a finalized cluster,
	// including the two core users.
	TargetSize int
	// MinCoreResonance is the formation threshold for the core pair.
	MinCoreResonance float64
	// ClusterTTL sets expiresAt relative to creation.
	ClusterTTL time.Duration
	// RecentActiveWindow bounds how stale a candidate's last activity may
	// be.
	RecentActiveWindow time.Duration
	// PoolLimit caps how many candidates are retrieved for scoring.
	PoolLimit int
	// AcceptQuality flags (not rejects) clusters scoring below it.
	AcceptQuality float64
	// QualitySampleSize bounds the pairwise resonance sample used for
	// post-hoc quality; full O(N²) is deliberately avoided.
	QualitySampleSize int
	// BalanceMaxIter bounds the activity rebalancing loop.
	BalanceMaxIter int
	TargetRatios   TierRatios
}

func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		TargetSize:         49,
		MinCoreResonance:   50,
		ClusterTTL:         7 * 24 * time.Hour,
		RecentActiveWindow: 7 * 24 * time.Hour,
		PoolLimit:          500,
		AcceptQuality:      0.6,
		QualitySampleSize:  20,
		BalanceMaxIter:     10,
		TargetRatios:       DefaultTierRatios(),
	}
}

// FormationOptions are per-call knobs. Region narrows the candidate pool
// geographically when set.
type FormationOptions struct {
	Region string
}

type ClusterService interface {
	// FormCluster builds and persists a cluster around the two core users.
	// On success the cluster has exactly TargetSize members including both
	// cores. On any error nothing remains persisted or marked.
	FormCluster(ctx context.Context, coreAID, coreBID uuid.UUID, opts *FormationOptions) (*types.Cluster, error)
	// Dissolve clears all members' cluster marks and deactivates the
	// cluster. Idempotent: dissolving a dissolved cluster is a no-op.
	Dissolve(ctx context.Context, clusterID uuid.UUID) error
	// SweepExpired dissolves active clusters past their expiry and returns
	// how many were dissolved.
	SweepExpired(ctx context.Context) (int, error)
}

type clusterService struct {
	db        *gorm.DB
	log       *logger.Logger
	users     repos.UserRepo
	clusters  repos.ClusterRepo
	resonance ResonanceService
	activity  ActivityService
	diversity *DiversityEvaluator
	cache     cache.Adapter
	cfg       ClusterConfig
	tracer    trace.Tracer
	now       func() time.Time
}

func NewClusterService(
	db *gorm.DB,
	baseLog *logger.Logger,
	users repos.UserRepo,
	clusters repos.ClusterRepo,
	resonance ResonanceService,
	activity ActivityService,
	diversity *DiversityEvaluator,
	cacheAdapter cache.Adapter,
	cfg ClusterConfig,
) ClusterService {
	return &clusterService{
		db:        db,
		log:       baseLog.With("service", "ClusterService"),
		users:     users,
		clusters:  clusters,
		resonance: resonance,
		activity:  activity,
		diversity: diversity,
		cache:     cacheAdapter,
		cfg:       cfg,
		tracer:    otel.Tracer("resonance-backend/cluster"),
		now:       time.Now,
	}
}

func clusterCacheKey(id uuid.UUID) string {
	return "cluster:" + id.String()
}

// candidateScore carries everything the selection pipeline knows about one
// candidate.
type candidateScore struct {
	member       ScoredMember
	resonanceA   float64
	resonanceB   float64
	avgResonance float64
	stability    float64
	contribution float64
	blended      float64
}

// strategy is a monotonic blend of resonance and diversity: raising either
// input never lowers the blended score.
type strategy struct {
	name       string
	wResonance float64
	wDiversity float64
}

func (cs *clusterService) FormCluster(ctx context.Context, coreAID, coreBID uuid.UUID, opts *FormationOptions) (*types.Cluster, error) {
	ctx, span := cs.tracer.Start(ctx, "cluster.form")
	defer span.End()

	coreA, coreB, err := cs.validateCores(ctx, coreAID, coreBID)
	if err != nil {
		return nil, err
	}

	coreResonance, err := cs.resonance.Calculate(ctx, coreA, coreB, false)
	if err != nil {
		return nil, fmt.Errorf("core resonance: %w", err)
	}
	if coreResonance < cs.cfg.MinCoreResonance {
		return nil, &InsufficientResonanceError{Resonance: coreResonance, Threshold: cs.cfg.MinCoreResonance}
	}

	pool, err := cs.retrievePool(ctx, coreAID, coreBID, opts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("pool.size", len(pool)))

	scored, err := cs.scorePool(ctx, coreA, coreB, pool)
	if err != nil {
		return nil, fmt.Errorf("score pool: %w", err)
	}

	strat := cs.selectStrategy(scored)
	span.SetAttributes(attribute.String("strategy", strat.name))
	cs.log.Info("formation strategy selected",
		"strategy", strat.name, "pool_size", len(scored),
		"core_resonance", coreResonance)

	ranked := cs.rankCandidates(scored, strat)
	selected := cs.constrainSelection(ranked)

	clusterID := uuid.New()
	claimed, err := cs.claimMembers(ctx, clusterID, coreA, coreB, selected, ranked)
	if err != nil {
		return nil, err
	}

	cluster, err := cs.buildAndPersist(ctx, clusterID, coreA, coreB, coreResonance, claimed, scored)
	if err != nil {
		cs.rollbackClaims(ctx, clusterID, coreA, coreB, claimed)
		return nil, err
	}

	cs.log.Info("cluster formed",
		"cluster_id", cluster.ID,
		"members", len(cluster.MemberIDs),
		"quality", cluster.QualityScore,
		"flagged", cluster.IsFlagged)
	return cluster, nil
}

func (cs *clusterService) validateCores(ctx context.Context, coreAID, coreBID uuid.UUID) (*types.User, *types.User, error) {
	if coreAID == coreBID {
		return nil, nil, &ValidationError{Reason: "core users must be distinct"}
	}

	users, err := cs.users.GetByIDs(ctx, nil, []uuid.UUID{coreAID, coreBID})
	if err != nil {
		return nil, nil, fmt.Errorf("load core users: %w", err)
	}
	byID := make(map[uuid.UUID]*types.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	coreA, okA := byID[coreAID]
	coreB, okB := byID[coreBID]
	if !okA || !okB {
		return nil, nil, fmt.Errorf("%w: core pair %s/%s", ErrUserNotFound, coreAID, coreBID)
	}
	if coreA.CurrentClusterID != nil {
		return nil, nil, &ValidationError{Reason: fmt.Sprintf("user %s already belongs to a cluster", coreAID)}
	}
	if coreB.CurrentClusterID != nil {
		return nil, nil, &ValidationError{Reason: fmt.Sprintf("user %s already belongs to a cluster", coreBID)}
	}
	if !coreA.IsActive || !coreB.IsActive {
		return nil, nil, &ValidationError{Reason: "both core users must be active"}
	}
	return coreA, coreB, nil
}

func (cs *clusterService) retrievePool(ctx context.Context, coreAID, coreBID uuid.UUID, opts *FormationOptions) ([]*types.User, error) {
	filter := repos.CandidateFilter{
		ActiveSince: cs.now().Add(-cs.cfg.RecentActiveWindow),
		ExcludeIDs:  []uuid.UUID{coreAID, coreBID},
		Limit:       cs.cfg.PoolLimit,
	}
	if opts != nil {
		filter.Region = opts.Region
	}

	pool, err := cs.users.FindCandidates(ctx, nil, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidate pool: %w", err)
	}

	required := cs.cfg.TargetSize - 2
	if len(pool) < required {
		return nil, &InsufficientPoolError{Available: len(pool), Required: required}
	}
	return pool, nil
}

// scorePool scores every candidate against both cores and attaches activity
// and diversity-contribution signals.
func (cs *clusterService) scorePool(ctx context.Context, coreA, coreB *types.User, pool []*types.User) ([]candidateScore, error) {
	ctx, span := cs.tracer.Start(ctx, "cluster.score_pool")
	defer span.End()

	scoresA, err := cs.resonance.Batch(ctx, coreA, pool)
	if err != nil {
		return nil, err
	}
	scoresB, err := cs.resonance.Batch(ctx, coreB, pool)
	if err != nil {
		return nil, err
	}
	byIDA := make(map[uuid.UUID]float64, len(scoresA))
	for _, s := range scoresA {
		byIDA[s.UserID] = s.Score
	}
	byIDB := make(map[uuid.UUID]float64, len(scoresB))
	for _, s := range scoresB {
		byIDB[s.UserID] = s.Score
	}

	members, err := cs.activity.ScoreAll(ctx, pool)
	if err != nil {
		return nil, err
	}

	// Contribution is measured against the whole pool's tallies: a tag most
	// of the pool carries scores near zero, a scarce one near one. Empty
	// tallies would grade every candidate identically and blind the strategy
	// choice to pool homogeneity.
	poolTallies := cs.diversity.tally(pool)
	scored := make([]candidateScore, 0, len(pool))
	for _, m := range members {
		a := byIDA[m.User.ID]
		b := byIDB[m.User.ID]
		avg := (a + b) / 2
		// Stability is the inverse variance of the candidate's two core
		// resonances, mapped into (0,1].
		variance := (math.Pow(a-avg, 2) + math.Pow(b-avg, 2)) / 2
		stability := 1 / (1 + variance/100)

		scored = append(scored, candidateScore{
			member:       m,
			resonanceA:   a,
			resonanceB:   b,
			avgResonance: avg,
			stability:    stability,
			contribution: cs.diversity.Contribution(m.User, poolTallies),
		})
	}
	return scored, nil
}

// selectStrategy picks the blend from aggregate pool statistics: pools that
// already resonate strongly but look homogeneous favor diversity, weakly
// resonating diverse pools favor resonance, anything else gets the default
// blend. Thresholds are tunable heuristics.
func (cs *clusterService) selectStrategy(scored []candidateScore) strategy {
	if len(scored) == 0 {
		return strategy{name: "balanced", wResonance: 0.6, wDiversity: 0.4}
	}

	var sumRes, sumDiv float64
	for _, c := range scored {
		sumRes += c.avgResonance
		sumDiv += c.contribution
	}
	meanRes := sumRes / float64(len(scored))
	meanDiv := sumDiv / float64(len(scored))

	switch {
	case meanRes >= 65 && meanDiv < 0.3:
		return strategy{name: "favor-diversity", wResonance: 0.35, wDiversity: 0.65}
	case meanRes < 45 && meanDiv >= 0.5:
		return strategy{name: "favor-resonance", wResonance: 0.75, wDiversity: 0.25}
	default:
		return strategy{name: "balanced", wResonance: 0.6, wDiversity: 0.4}
	}
}

// rankCandidates orders candidates by the strategy's blended score,
// descending, with the user id as a deterministic tie break.
func (cs *clusterService) rankCandidates(scored []candidateScore, strat strategy) []candidateScore {
	ranked := make([]candidateScore, len(scored))
	copy(ranked, scored)
	for i := range ranked {
		ranked[i].blended = strat.wResonance*(ranked[i].avgResonance/100) +
			strat.wDiversity*clamp01(ranked[i].contribution)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].blended != ranked[j].blended {
			return ranked[i].blended > ranked[j].blended
		}
		return ranked[i].member.User.ID.String() < ranked[j].member.User.ID.String()
	})
	return ranked
}

// constrainSelection runs the ranked candidates through the diversity caps
// and then rebalances activity tiers toward the target ratios. Exactly
// TargetSize-2 candidates come out; truncation happens only here.
func (cs *clusterService) constrainSelection(ranked []candidateScore) []candidateScore {
	need := cs.cfg.TargetSize - 2

	// A bounded shortlist keeps the greedy diversity pass cheap on big
	// pools while still leaving it real choices.
	shortlist := ranked
	if limit := need * 3; len(shortlist) > limit {
		shortlist = shortlist[:limit]
	}

	users := make([]*types.User, len(shortlist))
	byID := make(map[uuid.UUID]candidateScore, len(ranked))
	for i, c := range shortlist {
		users[i] = c.member.User
	}
	for _, c := range ranked {
		byID[c.member.User.ID] = c
	}

	admitted := cs.diversity.ApplyConstraints(users, need)

	selectedMembers := make([]ScoredMember, 0, len(admitted))
	for _, u := range admitted {
		selectedMembers = append(selectedMembers, byID[u.ID].member)
	}
	poolMembers := make([]ScoredMember, 0, len(ranked))
	for _, c := range ranked {
		poolMembers = append(poolMembers, c.member)
	}

	balanced := cs.activity.Rebalance(selectedMembers, poolMembers, cs.cfg.TargetRatios, cs.cfg.BalanceMaxIter)

	out := make([]candidateScore, 0, len(balanced))
	for _, m := range balanced {
		out = append(out, byID[m.User.ID])
	}
	if len(out) > need {
		out = out[:need]
	}
	return out
}

// claimMembers CAS-marks the cores and the selected candidates with the new
// cluster id. A candidate losing the race to another forming cluster is
// replaced from the remaining ranked pool; running out of replacements rolls
// everything back.
func (cs *clusterService) claimMembers(ctx context.Context, clusterID uuid.UUID, coreA, coreB *types.User, selected, ranked []candidateScore) ([]candidateScore, error) {
	ctx, span := cs.tracer.Start(ctx, "cluster.claim_members")
	defer span.End()

	for _, core := range []*types.User{coreA, coreB} {
		ok, err := cs.users.ClaimForCluster(ctx, nil, core.ID, clusterID)
		if err == nil && !ok {
			err = &ValidationError{Reason: fmt.Sprintf("core user %s was claimed by another cluster", core.ID)}
		}
		if err != nil {
			cs.rollbackClaims(ctx, clusterID, coreA, coreB, nil)
			return nil, err
		}
	}

	inSelection := make(map[uuid.UUID]struct{}, len(selected))
	for _, c := range selected {
		inSelection[c.member.User.ID] = struct{}{}
	}
	var replacements []candidateScore
	for _, c := range ranked {
		if _, ok := inSelection[c.member.User.ID]; !ok {
			replacements = append(replacements, c)
		}
	}

	claimed := make([]candidateScore, 0, len(selected))
	queue := append(append([]candidateScore{}, selected...), replacements...)
	need := cs.cfg.TargetSize - 2

	for _, c := range queue {
		if len(claimed) >= need {
			break
		}
		ok, err := cs.users.ClaimForCluster(ctx, nil, c.member.User.ID, clusterID)
		if err != nil {
			cs.rollbackClaims(ctx, clusterID, coreA, coreB, claimed)
			return nil, fmt.Errorf("claim member %s: %w", c.member.User.ID, err)
		}
		if !ok {
			// Lost the race to a concurrently forming cluster; that
			// admission fails and the next ranked candidate takes the seat.
			cs.log.Debug("candidate already claimed, replacing", "user_id", c.member.User.ID)
			continue
		}
		claimed = append(claimed, c)
	}

	if len(claimed) < need {
		cs.rollbackClaims(ctx, clusterID, coreA, coreB, claimed)
		return nil, &InsufficientPoolError{Available: len(claimed), Required: need}
	}
	return claimed, nil
}

// rollbackClaims undoes cluster marks after a failed formation. Member
// admission is all-or-nothing from the caller's perspective.
func (cs *clusterService) rollbackClaims(ctx context.Context, clusterID uuid.UUID, coreA, coreB *types.User, claimed []candidateScore) {
	ids := []uuid.UUID{coreA.ID, coreB.ID}
	for _, c := range claimed {
		ids = append(ids, c.member.User.ID)
	}
	if _, err := cs.users.ReleaseFromCluster(ctx, nil, clusterID, ids); err != nil {
		cs.log.Error("failed to roll back cluster claims", "cluster_id", clusterID, "error", err)
	}
}

func (cs *clusterService) buildAndPersist(ctx context.Context, clusterID uuid.UUID, coreA, coreB *types.User, coreResonance float64, claimed []candidateScore, scored []candidateScore) (*types.Cluster, error) {
	ctx, span := cs.tracer.Start(ctx, "cluster.persist")
	defer span.End()

	memberUsers := make([]*types.User, 0, len(claimed)+2)
	memberUsers = append(memberUsers, coreA, coreB)
	memberIDs := make([]uuid.UUID, 0, len(claimed)+2)
	memberIDs = append(memberIDs, coreA.ID, coreB.ID)
	for _, c := range claimed {
		memberUsers = append(memberUsers, c.member.User)
		memberIDs = append(memberIDs, c.member.User.ID)
	}

	quality, avgResonance, distribution, diversityScore, err := cs.scoreQuality(ctx, memberUsers, claimed)
	if err != nil {
		return nil, fmt.Errorf("score cluster quality: %w", err)
	}

	now := cs.now()
	cluster := &types.Cluster{
		ID:                clusterID,
		MemberIDs:         memberIDs,
		CoreUserIDs:       []uuid.UUID{coreA.ID, coreB.ID},
		ResonanceScore:    coreResonance,
		AverageResonance:  avgResonance,
		TagDiversityScore: diversityScore,
		QualityScore:      quality.total(),
		IsFlagged:         quality.total() < cs.cfg.AcceptQuality,
		IsActive:          true,
		CreatedAt:         now,
		ExpiresAt:         now.Add(cs.cfg.ClusterTTL),
		UpdatedAt:         now,
	}
	cluster.ActivityDistribution = datatypes.NewJSONType(distribution)
	cluster.QualityDetail = datatypes.NewJSONType(quality.breakdown())

	if _, err := cs.clusters.Create(ctx, nil, cluster); err != nil {
		return nil, fmt.Errorf("persist cluster: %w", err)
	}

	cs.cacheSnapshot(ctx, cluster)
	return cluster, nil
}

// qualityScores are the weighted sub-scores behind the post-hoc cluster
// quality score.
type qualityScores struct {
	resonance float64
	diversity float64
	activity  float64
	stability float64
}

func (q qualityScores) total() float64 {
	return round2(clamp01(0.4*q.resonance + 0.3*q.diversity + 0.2*q.activity + 0.1*q.stability))
}

func (q qualityScores) breakdown() types.QualityBreakdown {
	return types.QualityBreakdown{
		Resonance: round2(q.resonance),
		Diversity: round2(q.diversity),
		Activity:  round2(q.activity),
		Stability: round2(q.stability),
	}
}

// scoreQuality computes post-hoc cluster quality. Resonance quality averages
// pairwise resonance over a bounded member sample instead of the full O(N²)
// grid.
func (cs *clusterService) scoreQuality(ctx context.Context, members []*types.User, claimed []candidateScore) (qualityScores, float64, types.TierDistribution, float64, error) {
	sample := make([]*types.User, len(members))
	copy(sample, members)
	sort.Slice(sample, func(i, j int) bool { return sample[i].ID.String() < sample[j].ID.String() })
	if len(sample) > cs.cfg.QualitySampleSize {
		sample = sample[:cs.cfg.QualitySampleSize]
	}

	var pairSum float64
	var pairCount int
	for i := 0; i < len(sample); i++ {
		for j := i + 1; j < len(sample); j++ {
			score, err := cs.resonance.Calculate(ctx, sample[i], sample[j], false)
			if err != nil {
				return qualityScores{}, 0, types.TierDistribution{}, 0, err
			}
			pairSum += score
			pairCount++
		}
	}
	avgResonance := 0.0
	if pairCount > 0 {
		avgResonance = round2(pairSum / float64(pairCount))
	}

	diversityScore := cs.diversity.Score(members).Total

	memberScored, err := cs.activity.ScoreAll(ctx, members)
	if err != nil {
		return qualityScores{}, 0, types.TierDistribution{}, 0, err
	}
	activityQuality := cs.activity.BalanceScore(memberScored, cs.cfg.TargetRatios)

	var distribution types.TierDistribution
	for _, m := range memberScored {
		switch m.Activity.Level {
		case TierHigh:
			distribution.High++
		case TierMedium:
			distribution.Medium++
		default:
			distribution.Low++
		}
	}

	stability := 1.0
	if len(claimed) > 0 {
		var sum float64
		for _, c := range claimed {
			sum += c.stability
		}
		stability = sum / float64(len(claimed))
	}

	quality := qualityScores{
		resonance: avgResonance / 100,
		diversity: diversityScore,
		activity:  activityQuality,
		stability: stability,
	}
	return quality, avgResonance, distribution, round2(diversityScore), nil
}

func (cs *clusterService) cacheSnapshot(ctx context.Context, cluster *types.Cluster) {
	raw, err := json.Marshal(cluster)
	if err != nil {
		cs.log.Warn("cluster snapshot marshal failed", "cluster_id", cluster.ID, "error", err)
		return
	}
	if err := cs.cache.Set(ctx, clusterCacheKey(cluster.ID), string(raw), cs.cfg.ClusterTTL); err != nil {
		cs.log.Warn("cluster snapshot cache write failed", "cluster_id", cluster.ID, "error", err)
	}
}

func (cs *clusterService) Dissolve(ctx context.Context, clusterID uuid.UUID) error {
	ctx, span := cs.tracer.Start(ctx, "cluster.dissolve")
	defer span.End()

	cluster, err := cs.clusters.GetByID(ctx, nil, clusterID)
	if err != nil {
		return fmt.Errorf("load cluster: %w", err)
	}
	if cluster == nil {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, clusterID)
	}
	if !cluster.IsActive {
		// Already dissolved; dissolution is terminal and idempotent.
		return nil
	}

	released, err := cs.users.ReleaseFromCluster(ctx, nil, clusterID, cluster.Members())
	if err != nil {
		return fmt.Errorf("release cluster members: %w", err)
	}

	cluster.IsActive = false
	cluster.UpdatedAt = cs.now()
	if err := cs.clusters.Save(ctx, nil, cluster); err != nil {
		return fmt.Errorf("deactivate cluster: %w", err)
	}

	if err := cs.cache.Del(ctx, clusterCacheKey(clusterID)); err != nil {
		cs.log.Warn("cluster snapshot invalidation failed", "cluster_id", clusterID, "error", err)
	}

	cs.log.Info("cluster dissolved", "cluster_id", clusterID, "members_released", released)
	return nil
}

func (cs *clusterService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := cs.clusters.ListExpiredActive(ctx, nil, cs.now(), 100)
	if err != nil {
		return 0, fmt.Errorf("list expired clusters: %w", err)
	}

	dissolved := 0
	for _, c := range expired {
		if err := cs.Dissolve(ctx, c.ID); err != nil {
			cs.log.Error("failed to dissolve expired cluster", "cluster_id", c.ID, "error", err)
			continue
		}
		dissolved++
	}
	return dissolved, nil
}
