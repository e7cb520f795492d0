package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/newsroom/capability"
	"github.com/jeeves-cluster-organization/newsroom/envelope"
)

var testSubjects = DefaultSubjects()

// scriptedScorer returns a fixed verdict.
type scriptedScorer struct {
	eval capability.Evaluation
	err  error
}

func (s *scriptedScorer) Score(ctx context.Context, draft string, sources []string, notes string) (capability.Evaluation, error) {
	return s.eval, s.err
}

// failingGenerator always errors.
type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, spec capability.SectionSpec) (string, error) {
	return "", errors.New("backend unavailable")
}

func draftEnvelope(t *testing.T, maxRetries, attempt int) *envelope.Envelope {
	t.Helper()
	root, err := envelope.NewRoot(envelope.RootRequest{Area: "Go"}, 1,
		envelope.WithMaxRetries(maxRetries))
	require.NoError(t, err)
	env, err := root.Derive(envelope.StageDraft, WriterService, VerifierService,
		envelope.DraftSubmission{
			SectionID: "sec-1",
			Topic:     "Go Concurrency",
			Section:   "Introduction",
			Draft:     "some text",
			Sources:   []string{"spec"},
		})
	require.NoError(t, err)
	env.AttemptCount = attempt
	return env
}

// =============================================================================
// CHIEF TESTS
// =============================================================================

func TestChiefFansOutTopicsWithPlan(t *testing.T) {
	// One root request becomes one plan announcement plus one assignment per
	// topic.
	chief := NewChief(capability.NewStubPlanner(), testSubjects, 3)
	root, err := envelope.NewRoot(envelope.RootRequest{
		Area: "Go", Style: "tutorial", MaxTopics: 2, MaxSections: 3,
	}, 6)
	require.NoError(t, err)

	out, err := chief.Handle(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, testSubjects.Done, out[0].Subject)
	assert.Equal(t, envelope.StagePlan, out[0].Env.Stage)
	var plan envelope.PlanAnnouncement
	require.NoError(t, out[0].Env.DecodePayload(&plan))
	assert.Equal(t, "chief", plan.Origin)
	assert.Len(t, plan.Topics, 2)

	for _, o := range out[1:] {
		assert.Equal(t, testSubjects.SectionIn, o.Subject)
		assert.Equal(t, envelope.StageTopic, o.Env.Stage)
		assert.Equal(t, root.ConversationID, o.Env.ConversationID)
		var assignment envelope.TopicAssignment
		require.NoError(t, o.Env.DecodePayload(&assignment))
		assert.Equal(t, "tutorial", assignment.Style)
		assert.Equal(t, 3, assignment.MaxSections)
	}
}

func TestChiefClampsTopicLimit(t *testing.T) {
	// The service cap wins over a greedy request.
	chief := NewChief(capability.NewStubPlanner(), testSubjects, 2)
	root, err := envelope.NewRoot(envelope.RootRequest{Area: "Go", MaxTopics: 50}, 1)
	require.NoError(t, err)

	out, err := chief.Handle(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, out, 3) // plan + 2 topics
}

type emptyPlanner struct{}

func (emptyPlanner) ProposeTopics(ctx context.Context, area string, limit int) ([]string, error) {
	return nil, nil
}
func (emptyPlanner) PlanSections(ctx context.Context, topic string, limit int) ([]string, error) {
	return nil, nil
}

func TestChiefEmptyPlanStillAnnounces(t *testing.T) {
	// Zero topics still produce the census so the aggregator can finish.
	chief := NewChief(emptyPlanner{}, testSubjects, 3)
	root, err := envelope.NewRoot(envelope.RootRequest{Area: "Go"}, 1)
	require.NoError(t, err)

	out, err := chief.Handle(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, out, 1)
	var plan envelope.PlanAnnouncement
	require.NoError(t, out[0].Env.DecodePayload(&plan))
	assert.Empty(t, plan.Topics)
}

// =============================================================================
// SECTION EDITOR TESTS
// =============================================================================

func TestSectionEditorFansOutTasksWithPlan(t *testing.T) {
	// One topic becomes a section census plus one task per section, with
	// stable unique section ids.
	editor := NewSectionEditor(capability.NewStubPlanner(), testSubjects, 5)
	root, err := envelope.NewRoot(envelope.RootRequest{Area: "Go"}, 1)
	require.NoError(t, err)
	topicEnv, err := root.Derive(envelope.StageTopic, ChiefService, SectionService,
		envelope.TopicAssignment{Topic: "Go Concurrency", MaxSections: 3, Style: "deep dive"})
	require.NoError(t, err)

	out, err := editor.Handle(context.Background(), topicEnv)
	require.NoError(t, err)
	require.Len(t, out, 4)

	var plan envelope.PlanAnnouncement
	require.NoError(t, out[0].Env.DecodePayload(&plan))
	assert.Equal(t, "section", plan.Origin)
	assert.Equal(t, "Go Concurrency", plan.Topic)
	require.Len(t, plan.SectionIDs, 3)

	seen := map[string]bool{}
	for i, o := range out[1:] {
		assert.Equal(t, testSubjects.WriteIn, o.Subject)
		assert.Equal(t, 3, o.Env.ExpectedResults)
		var task envelope.SectionTask
		require.NoError(t, o.Env.DecodePayload(&task))
		assert.Equal(t, plan.SectionIDs[i], task.SectionID)
		assert.False(t, seen[task.SectionID])
		seen[task.SectionID] = true
		assert.Equal(t, "deep dive", task.Style)
	}
}

// =============================================================================
// WRITER TESTS
// =============================================================================

func TestWriterDraftsSectionTask(t *testing.T) {
	writer := NewWriter(capability.NewStubGenerator(), testSubjects)
	root, err := envelope.NewRoot(envelope.RootRequest{Area: "Go"}, 1)
	require.NoError(t, err)
	taskEnv, err := root.Derive(envelope.StageSectionTask, SectionService, WriterService,
		envelope.SectionTask{SectionID: "sec-1", Topic: "t", Section: "Introduction"})
	require.NoError(t, err)

	out, err := writer.Handle(context.Background(), taskEnv)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, testSubjects.VerifyIn, out[0].Subject)
	assert.Equal(t, envelope.StageDraft, out[0].Env.Stage)

	var sub envelope.DraftSubmission
	require.NoError(t, out[0].Env.DecodePayload(&sub))
	assert.Equal(t, "sec-1", sub.SectionID)
	assert.NotEmpty(t, sub.Draft)
}

func TestWriterRevisionKeepsAttemptCount(t *testing.T) {
	// The writer carries attempt_count through unchanged; only the verifier
	// spends the budget.
	writer := NewWriter(capability.NewStubGenerator(), testSubjects)
	root, err := envelope.NewRoot(envelope.RootRequest{Area: "Go"}, 1,
		envelope.WithMaxRetries(3))
	require.NoError(t, err)
	revEnv, err := root.DeriveRevision(VerifierService, WriterService,
		envelope.RevisionRequest{
			SectionID: "sec-1", Topic: "t", Section: "s",
			Draft: "old", Feedback: "expand examples", Score: 5.0,
		})
	require.NoError(t, err)
	require.Equal(t, 1, revEnv.AttemptCount)

	out, err := writer.Handle(context.Background(), revEnv)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Env.AttemptCount)

	var sub envelope.DraftSubmission
	require.NoError(t, out[0].Env.DecodePayload(&sub))
	assert.Contains(t, sub.Draft, "expand examples") // stub folds feedback in
}

func TestWriterGeneratorFailureProducesNothing(t *testing.T) {
	writer := NewWriter(failingGenerator{}, testSubjects)
	root, err := envelope.NewRoot(envelope.RootRequest{Area: "Go"}, 1)
	require.NoError(t, err)
	taskEnv, err := root.Derive(envelope.StageSectionTask, SectionService, WriterService,
		envelope.SectionTask{SectionID: "sec-1", Topic: "t", Section: "s"})
	require.NoError(t, err)

	out, err := writer.Handle(context.Background(), taskEnv)
	require.Error(t, err)
	assert.Empty(t, out)
}

// =============================================================================
// VERIFIER TESTS
// =============================================================================

func TestVerifierAcceptsAboveThreshold(t *testing.T) {
	verifier := NewVerifier(&scriptedScorer{
		eval: capability.Evaluation{Score: 8.0, Feedback: "good", Method: capability.ScoringMethodModel},
	}, testSubjects, 7.0)

	out, err := verifier.Handle(context.Background(), draftEnvelope(t, 2, 0))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, testSubjects.Done, out[0].Subject)

	var result envelope.FinalResult
	require.NoError(t, out[0].Env.DecodePayload(&result))
	assert.Equal(t, "sec-1", result.SectionID)
	assert.Equal(t, 8.0, result.Score)
	assert.False(t, result.Forced)
	assert.Equal(t, 0, result.Attempts)
	assert.Equal(t, capability.ScoringMethodModel, result.ScoringMethod)
}

func TestVerifierAcceptsExactThreshold(t *testing.T) {
	// The threshold is inclusive: score == min_score accepts.
	verifier := NewVerifier(&scriptedScorer{
		eval: capability.Evaluation{Score: 7.0, Method: capability.ScoringMethodHeuristic},
	}, testSubjects, 7.0)

	out, err := verifier.Handle(context.Background(), draftEnvelope(t, 2, 0))
	require.NoError(t, err)
	var result envelope.FinalResult
	require.NoError(t, out[0].Env.DecodePayload(&result))
	assert.False(t, result.Forced)
}

func TestVerifierRequestsRevisionBelowThreshold(t *testing.T) {
	verifier := NewVerifier(&scriptedScorer{
		eval: capability.Evaluation{Score: 5.0, Feedback: "needs sources", Method: capability.ScoringMethodModel},
	}, testSubjects, 7.0)

	out, err := verifier.Handle(context.Background(), draftEnvelope(t, 2, 0))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, testSubjects.WriteIn, out[0].Subject)
	assert.Equal(t, envelope.StageRevisionRequest, out[0].Env.Stage)
	assert.Equal(t, 1, out[0].Env.AttemptCount)

	var rev envelope.RevisionRequest
	require.NoError(t, out[0].Env.DecodePayload(&rev))
	assert.Equal(t, "needs sources", rev.Feedback)
	assert.Equal(t, 5.0, rev.Score)
	assert.Equal(t, "some text", rev.Draft)
}

func TestVerifierForcesResultWhenBudgetExhausted(t *testing.T) {
	// At attempt_count == max_retries a failing draft is force-accepted so
	// the conversation terminates.
	verifier := NewVerifier(&scriptedScorer{
		eval: capability.Evaluation{Score: 4.0, Feedback: "still weak", Method: capability.ScoringMethodHeuristic},
	}, testSubjects, 7.0)

	out, err := verifier.Handle(context.Background(), draftEnvelope(t, 2, 2))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, testSubjects.Done, out[0].Subject)

	var result envelope.FinalResult
	require.NoError(t, out[0].Env.DecodePayload(&result))
	assert.True(t, result.Forced)
	assert.Equal(t, 4.0, result.Score)
	assert.Equal(t, 2, result.Attempts)
}

func TestVerifierScorerFailureProducesNothing(t *testing.T) {
	// A scoring fault is a stage failure, not a silent accept or reject.
	verifier := NewVerifier(&scriptedScorer{err: errors.New("scorer down")}, testSubjects, 7.0)
	out, err := verifier.Handle(context.Background(), draftEnvelope(t, 2, 0))
	require.Error(t, err)
	assert.Empty(t, out)
}
