package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/resonance-backend/internal/cache"
	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/repos"
	"github.com/yungbote/resonance-backend/internal/types"
)

// HistoryAppender receives resonance snapshots for asynchronous, loss-
// tolerant persistence. Enqueue never blocks; false means the append was
// dropped.
type HistoryAppender interface {
	Enqueue(pairKey string, snapshot types.ResonanceSnapshot) bool
}

// ResonanceConfig are the calculator's tunables.
type ResonanceConfig struct {
	// CacheTTL bounds how long a computed score is served from cache.
	CacheTTL time.Duration
	// HalfLife is the interaction time-decay half-life.
	HalfLife time.Duration
	// BatchSize bounds concurrent pair computations in Batch.
	BatchSize int
	// HistoryLimit bounds a record's stored history length.
	HistoryLimit int
}

func DefaultResonanceConfig() ResonanceConfig {
	return ResonanceConfig{
		CacheTTL:     time.Hour,
		HalfLife:     30 * 24 * time.Hour,
		BatchSize:    10,
		HistoryLimit: 50,
	}
}

// Signal defaults when a sub-computation fails. Documented contract, not
// placeholders: formation must stay available under partial data failure.
const (
	defaultTagSimilarity    = 0.1
	defaultInteractionScore = 0.1
	defaultPreferenceMatch  = 0.1
	emptyPreferenceMatch    = 0.5
)

// Interaction sub-score weights.
const (
	interactionWeightBase        = 0.4
	interactionWeightReciprocity = 0.25
	interactionWeightFrequency   = 0.2
	interactionWeightRecency     = 0.15
)

// actionWeights score each interaction kind; unknown kinds fall back to
// DefaultActionWeight.
var actionWeights = map[string]float64{
	types.ActionLike:     1.0,
	types.ActionComment:  2.0,
	types.ActionForward:  3.0,
	types.ActionShare:    3.0,
	types.ActionBookmark: 1.5,
	types.ActionView:     0.5,
	types.ActionPost:     1.0,
}

const DefaultActionWeight = 1.0

// PairScore is one candidate's resonance against a fixed user.
type PairScore struct {
	UserID uuid.UUID
	User   *types.User
	Score  float64
}

type ResonanceService interface {
	// Calculate returns the pair's resonance in [0,100]. Symmetric in its
	// arguments; Calculate(u,u) is 100. Unless forceRecalc is set, a cached
	// score is returned without recomputing signals.
	Calculate(ctx context.Context, userA, userB *types.User, forceRecalc bool) (float64, error)
	// Batch scores one user against many candidates with bounded
	// concurrency and returns the results sorted by score descending.
	Batch(ctx context.Context, user *types.User, candidates []*types.User) ([]PairScore, error)
}

type resonanceService struct {
	db           *gorm.DB
	log          *logger.Logger
	cache        cache.Adapter
	interactions repos.InteractionRepo
	records      repos.ResonanceRecordRepo
	sim          *SimilarityCalculator
	adjuster     *WeightAdjuster
	random       RandomSource
	history      HistoryAppender
	cfg          ResonanceConfig
	now          func() time.Time
}

func NewResonanceService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cacheAdapter cache.Adapter,
	interactions repos.InteractionRepo,
	records repos.ResonanceRecordRepo,
	sim *SimilarityCalculator,
	adjuster *WeightAdjuster,
	random RandomSource,
	history HistoryAppender,
	cfg ResonanceConfig,
) ResonanceService {
	return &resonanceService{
		db:           db,
		log:          baseLog.With("service", "ResonanceService"),
		cache:        cacheAdapter,
		interactions: interactions,
		records:      records,
		sim:          sim,
		adjuster:     adjuster,
		random:       random,
		history:      history,
		cfg:          cfg,
		now:          time.Now,
	}
}

func resonanceCacheKey(pairKey string) string {
	return "resonance:" + pairKey
}

func (rs *resonanceService) Calculate(ctx context.Context, userA, userB *types.User, forceRecalc bool) (float64, error) {
	if userA == nil || userB == nil {
		return 0, &ValidationError{Reason: "both users are required"}
	}
	if userA.ID == userB.ID {
		return 100, nil
	}

	// All signal math runs on the canonical pair order so that
	// Calculate(A,B) and Calculate(B,A) are byte-for-byte the same
	// computation.
	if first, _ := types.SortedPair(userA.ID, userB.ID); first != userA.ID {
		userA, userB = userB, userA
	}
	pairKey := types.PairKey(userA.ID, userB.ID)
	cacheKey := resonanceCacheKey(pairKey)

	if !forceRecalc {
		if cached, ok := rs.cacheLookup(ctx, cacheKey); ok {
			return cached, nil
		}
	}

	signals, interactions, failures := rs.computeSignals(ctx, userA, userB)
	if failures == 3 {
		// Total signal failure: serve the deterministic fallback rather
		// than propagate a data-layer outage into cluster formation.
		score := rs.fallbackScore(userA, userB)
		rs.cacheStore(ctx, cacheKey, score)
		rs.log.Warn("all resonance signals failed, using fallback",
			"pair_key", pairKey, "score", score)
		return score, nil
	}

	weights := rs.adjuster.Adjust(userA, userB, interactions, rs.now())
	signals.RandomFactor = rs.random.Float64()

	raw := weights.TagSimilarity*signals.TagSimilarity +
		weights.InteractionScore*signals.InteractionScore +
		weights.ContentPreferenceMatch*signals.ContentPreferenceMatch +
		weights.RandomFactor*signals.RandomFactor
	score := round2(clampScore(raw * 100))

	// The cache write is synchronous on purpose: a concurrent caller must
	// observe the fresh entry immediately so the pair is not recomputed.
	rs.cacheStore(ctx, cacheKey, score)
	rs.persistRecord(ctx, pairKey, userA.ID, userB.ID, signals, score)

	if rs.history != nil {
		rs.history.Enqueue(pairKey, types.ResonanceSnapshot{
			Timestamp: rs.now(),
			Resonance: score,
			Factors:   signals,
		})
	}

	return score, nil
}

// computeSignals runs the three resonance signals concurrently, each
// fault-isolated: an error or panic in one signal degrades that signal to
// its documented default without touching the others.
func (rs *resonanceService) computeSignals(ctx context.Context, userA, userB *types.User) (types.ResonanceFactors, []*types.Interaction, int) {
	signals := types.ResonanceFactors{
		TagSimilarity:          defaultTagSimilarity,
		InteractionScore:       defaultInteractionScore,
		ContentPreferenceMatch: defaultPreferenceMatch,
	}
	var interactions []*types.Interaction
	// Each goroutine writes only its own slot, so no locking is needed.
	var failed [3]bool

	var g errgroup.Group

	g.Go(rs.isolated("tag_similarity", &failed[0], func() error {
		signals.TagSimilarity = rs.sim.Combined(userA.TagList(), userB.TagList())
		return nil
	}))

	g.Go(rs.isolated("interaction_score", &failed[1], func() error {
		history, err := rs.interactions.GetBetween(ctx, nil, userA.ID, userB.ID, time.Time{})
		if err != nil {
			return err
		}
		interactions = history
		signals.InteractionScore = rs.interactionScore(userA.ID, userB.ID, history)
		return nil
	}))

	g.Go(rs.isolated("content_preference_match", &failed[2], func() error {
		signals.ContentPreferenceMatch = preferenceMatch(userA.Preferences(), userB.Preferences())
		return nil
	}))

	_ = g.Wait()

	failures := 0
	for _, f := range failed {
		if f {
			failures++
		}
	}
	return signals, interactions, failures
}

// isolated wraps a signal computation with panic recovery and error-to-
// default degradation. The wrapped func never returns an error upward; it
// only marks the failure and logs it.
func (rs *resonanceService) isolated(name string, failed *bool, fn func() error) func() error {
	return func() error {
		defer func() {
			if r := recover(); r != nil {
				*failed = true
				rs.log.Error("resonance signal panicked", "signal", name, "panic", r)
			}
		}()
		if err := fn(); err != nil {
			*failed = true
			rs.log.Warn("resonance signal failed, using default", "signal", name, "error", err)
		}
		return nil
	}
}

// interactionScore combines four sub-scores over the pair's shared history:
// time-decayed weighted action volume, reciprocity, frequency, and recency.
func (rs *resonanceService) interactionScore(userAID, userBID uuid.UUID, history []*types.Interaction) float64 {
	if len(history) == 0 {
		return 0
	}

	now := rs.now()
	halfLifeDays := rs.cfg.HalfLife.Hours() / 24

	var decayedSum float64
	var aToB, bToA int
	var recentCount int
	newest := history[0].CreatedAt
	for _, it := range history {
		w, ok := actionWeights[it.ActionType]
		if !ok {
			w = DefaultActionWeight
		}
		ageDays := now.Sub(it.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decayedSum += w * math.Pow(0.5, ageDays/halfLifeDays)

		switch it.ActorID {
		case userAID:
			aToB++
		case userBID:
			bToA++
		}
		if now.Sub(it.CreatedAt) <= 30*24*time.Hour {
			recentCount++
		}
		if it.CreatedAt.After(newest) {
			newest = it.CreatedAt
		}
	}

	// Saturating base: ~20 decayed action-weight units is a full score.
	base := math.Min(1, decayedSum/20)

	reciprocity := 0.0
	if aToB > 0 && bToA > 0 {
		lo, hi := float64(aToB), float64(bToA)
		if lo > hi {
			lo, hi = hi, lo
		}
		reciprocity = lo / hi
	}

	frequency := math.Min(1, float64(recentCount)/20)

	recencyDays := now.Sub(newest).Hours() / 24
	recency := 0.0
	switch {
	case recencyDays <= 1:
		recency = 1.0
	case recencyDays <= 7:
		recency = 0.8
	case recencyDays <= 30:
		recency = 0.5
	case recencyDays <= 90:
		recency = 0.2
	}

	return clamp01(interactionWeightBase*base +
		interactionWeightReciprocity*reciprocity +
		interactionWeightFrequency*frequency +
		interactionWeightRecency*recency)
}

// preferenceMatch is the weighted Jaccard over two preference maps: sum of
// min weights over sum of max weights across the key union. Two empty maps
// are the neutral 0.5.
func preferenceMatch(prefsA, prefsB types.PreferenceMap) float64 {
	if len(prefsA) == 0 && len(prefsB) == 0 {
		return emptyPreferenceMatch
	}
	if len(prefsA) == 0 || len(prefsB) == 0 {
		return 0
	}

	var minSum, maxSum float64
	for k, wa := range prefsA {
		if wb, ok := prefsB[k]; ok {
			minSum += math.Min(wa, wb)
			maxSum += math.Max(wa, wb)
		} else {
			maxSum += wa
		}
	}
	for k, wb := range prefsB {
		if _, ok := prefsA[k]; !ok {
			maxSum += wb
		}
	}
	if maxSum == 0 {
		return 0
	}
	return clamp01(minSum / maxSum)
}

// fallbackScore is the cheap deterministic degradation path: a base constant
// plus a tag-presence bonus plus a bounded activity bonus. It needs no data
// layer at all.
func (rs *resonanceService) fallbackScore(userA, userB *types.User) float64 {
	score := 30.0
	if len(userA.Tags) > 0 && len(userB.Tags) > 0 {
		score += 10
	}
	avgDays := float64(userA.DaysActive+userB.DaysActive) / 2
	score += math.Min(1, avgDays/365) * 20
	return round2(clampScore(score))
}

func (rs *resonanceService) cacheLookup(ctx context.Context, key string) (float64, bool) {
	val, ok, err := rs.cache.Get(ctx, key)
	if err != nil {
		rs.log.Warn("resonance cache read failed", "key", key, "error", err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	score, err := strconv.ParseFloat(val, 64)
	if err != nil {
		rs.log.Warn("resonance cache entry unparsable, dropping", "key", key, "value", val)
		_ = rs.cache.Del(ctx, key)
		return 0, false
	}
	return score, true
}

func (rs *resonanceService) cacheStore(ctx context.Context, key string, score float64) {
	val := strconv.FormatFloat(score, 'f', -1, 64)
	if err := rs.cache.Set(ctx, key, val, rs.cfg.CacheTTL); err != nil {
		rs.log.Warn("resonance cache write failed", "key", key, "error", err)
	}
}

// persistRecord upserts the pair's resonance record. Failure is logged and
// swallowed: the authoritative answer for this call is the returned score,
// and the record will be rewritten on the next recompute.
func (rs *resonanceService) persistRecord(ctx context.Context, pairKey string, aID, bID uuid.UUID, signals types.ResonanceFactors, score float64) {
	record := &types.ResonanceRecord{
		ID:                     uuid.New(),
		PairKey:                pairKey,
		UserAID:                aID,
		UserBID:                bID,
		TagSimilarity:          signals.TagSimilarity,
		InteractionScore:       signals.InteractionScore,
		ContentPreferenceMatch: signals.ContentPreferenceMatch,
		RandomFactor:           signals.RandomFactor,
		TotalResonance:         score,
		UpdatedAt:              rs.now(),
	}
	if err := rs.records.Upsert(ctx, nil, record); err != nil {
		rs.log.Warn("resonance record upsert failed", "pair_key", pairKey, "error", err)
	}
}

func (rs *resonanceService) Batch(ctx context.Context, user *types.User, candidates []*types.User) ([]PairScore, error) {
	if user == nil {
		return nil, &ValidationError{Reason: "user is required"}
	}

	results := make([]PairScore, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	limit := rs.cfg.BatchSize
	if limit <= 0 {
		limit = DefaultResonanceConfig().BatchSize
	}
	g.SetLimit(limit)

	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			score, err := rs.Calculate(gctx, user, candidate, false)
			if err != nil {
				return fmt.Errorf("score candidate %s: %w", candidate.ID, err)
			}
			results[i] = PairScore{UserID: candidate.ID, User: candidate, Score: score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].UserID.String() < results[j].UserID.String()
	})
	return results, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
