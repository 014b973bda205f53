package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfFollowsChain(t *testing.T) {
	up := &UpstreamError{Service: "direct", Status: 500, Message: "boom"}
	wrapped := AtStage(FetchStage("d1"), fmt.Errorf("fetch: %w", up))

	assert.Equal(t, KindUpstream, KindOf(wrapped))
	assert.Equal(t, "fetch:d1", StageOf(wrapped))
	assert.Equal(t, "stage fetch:d1: fetch: direct upstream error (status 500): boom", wrapped.Error())

	var got *UpstreamError
	assert.True(t, errors.As(wrapped, &got))
	assert.Equal(t, 500, got.Status)
}

func TestAtStageKeepsFirstStage(t *testing.T) {
	inner := AtStage(TransformStage(2), Invalid("formula", "unknown column %q", "x"))
	outer := AtStage(StageMerge, inner)

	assert.Equal(t, "transform:2", StageOf(outer))
	assert.Equal(t, KindValidation, KindOf(outer))
	assert.Nil(t, AtStage(StagePeriod, nil))
}

func TestAuthErrorWinsOverUpstream(t *testing.T) {
	err := &AuthError{IntegrationID: "direct", Err: &UpstreamError{Service: "oauth", Status: 400}}
	assert.Equal(t, KindAuth, KindOf(err))
	assert.Equal(t, "transform:metrika:0", SourceTransformStage("metrika", 0))
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
}
