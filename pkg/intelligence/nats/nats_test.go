package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
)

type fakeJetStream struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeJetStream) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	f.subject, f.data = subj, data
	if f.err != nil {
		return nil, f.err
	}
	return &nats.PubAck{Stream: "SIFT", Sequence: 7}, nil
}

type fakeMsg struct {
	delivered uint64
	acked     bool
	nacked    bool
	termed    bool
}

func (m *fakeMsg) Ack(...nats.AckOpt) error  { m.acked = true; return nil }
func (m *fakeMsg) Nak(...nats.AckOpt) error  { m.nacked = true; return nil }
func (m *fakeMsg) Term(...nats.AckOpt) error { m.termed = true; return nil }
func (m *fakeMsg) Metadata() (*nats.MsgMetadata, error) {
	return &nats.MsgMetadata{NumDelivered: m.delivered}, nil
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "case-7", SubjectToken("case-7"))
	assert.Equal(t, "a_b_c_d", SubjectToken("a.b*c>d"))
	assert.Equal(t, "_", SubjectToken(""))
}

func TestMergeSubjects(t *testing.T) {
	merged := mergeSubjects([]string{"other.>", "sift.runs.>"}, []string{"sift.correlations.>", "sift.runs.>"})
	assert.Equal(t, []string{"other.>", "sift.runs.>", "sift.correlations.>"}, merged)
}

func TestPublishRun(t *testing.T) {
	js := &fakeJetStream{}
	p := newPublisher(zaptest.NewLogger(t), js, "sift.correlations")

	result := &correlation.Result{
		RunID:        "run-1",
		Correlations: []domain.Correlation{{ID: "c1", EventID: "e1", ItemID: "i1", Strength: 0.9}},
		Summary:      correlation.Summary{RunID: "run-1", Correlations: 1},
	}
	require.NoError(t, p.PublishRun(context.Background(), "case.7", result))
	assert.Equal(t, "sift.correlations.case_7", js.subject)

	var msg RunMessage
	require.NoError(t, json.Unmarshal(js.data, &msg))
	assert.Equal(t, domain.InvestigationID("case.7"), msg.InvestigationID)
	assert.Equal(t, "run-1", msg.RunID)
	require.Len(t, msg.Correlations, 1)
	assert.Equal(t, "c1", msg.Correlations[0].ID)
	assert.False(t, msg.PublishedAt.IsZero())
}

func TestPublishRunEmptyAndError(t *testing.T) {
	js := &fakeJetStream{}
	p := newPublisher(zaptest.NewLogger(t), js, "sift.correlations")

	require.NoError(t, p.PublishRun(context.Background(), "inv", &correlation.Result{RunID: "r"}))
	assert.Contains(t, string(js.data), `"correlations":[]`)

	js.err = errors.New("no responders")
	err := p.PublishRun(context.Background(), "inv", &correlation.Result{RunID: "r"})
	assert.ErrorContains(t, err, "no responders")
}

func TestParseRunRequest(t *testing.T) {
	req, err := ParseRunRequest("sift.runs", "sift.runs.x", []byte(`{"investigation_id":"inv-1"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.InvestigationID("inv-1"), req.InvestigationID)

	req, err = ParseRunRequest("sift.runs", "sift.runs.inv-2", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestigationID("inv-2"), req.InvestigationID)

	_, err = ParseRunRequest("sift.runs", "sift.runs.x", []byte(`{`))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = ParseRunRequest("sift.runs", "other", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHandleMessage(t *testing.T) {
	cfg := config.DefaultNATSConfig()

	var got []RunRequest
	fail := error(nil)
	s := newSubscriber(zaptest.NewLogger(t), cfg, RunHandlerFunc(func(ctx context.Context, req RunRequest) error {
		got = append(got, req)
		return fail
	}))

	ok := &fakeMsg{delivered: 1}
	s.handleMessage(context.Background(), ok, "sift.runs.inv", []byte(`{"investigation_id":"inv"}`))
	assert.True(t, ok.acked)
	require.Len(t, got, 1)

	bad := &fakeMsg{delivered: 1}
	s.handleMessage(context.Background(), bad, "sift.runs.inv", []byte(`not json`))
	assert.True(t, bad.termed)
	assert.Len(t, got, 1)

	fail = errors.New("store unavailable")
	retry := &fakeMsg{delivered: 1}
	s.handleMessage(context.Background(), retry, "sift.runs.inv", nil)
	assert.True(t, retry.nacked)

	last := &fakeMsg{delivered: uint64(cfg.MaxDeliver)}
	s.handleMessage(context.Background(), last, "sift.runs.inv", nil)
	assert.True(t, last.termed)
	assert.False(t, last.nacked)

	fail = errors.Join(ErrInvalidRequest, errors.New("unknown investigation"))
	invalid := &fakeMsg{delivered: 1}
	s.handleMessage(context.Background(), invalid, "sift.runs.inv", nil)
	assert.True(t, invalid.termed)

	stats := s.Stats()
	assert.Equal(t, int64(5), stats.Received)
	assert.Equal(t, int64(1), stats.Acked)
	assert.Equal(t, int64(1), stats.Nacked)
	assert.Equal(t, int64(3), stats.Terminated)
	assert.Equal(t, int64(3), stats.ProcessingErrors)
}

func TestNewSubscriberRequiresHandler(t *testing.T) {
	_, err := NewSubscriber(zaptest.NewLogger(t), nil, config.DefaultNATSConfig(), nil)
	assert.Error(t, err)
}
