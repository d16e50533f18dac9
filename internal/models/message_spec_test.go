package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageSpec_UnmarshalSingleStep(t *testing.T) {
	var spec MessageSpec
	err := json.Unmarshal([]byte(`{"kind":"text","body":"Hi {name}"}`), &spec)
	require.NoError(t, err)
	require.Len(t, spec.Steps, 1)

	step, ok := spec.Steps[0].(TextStep)
	require.True(t, ok)
	assert.Equal(t, "Hi {name}", step.Body)
}

func TestMessageSpec_UnmarshalSequence(t *testing.T) {
	payload := `{"steps":[
		{"kind":"image","media":{"url":"https://cdn.example.com/a.png","caption":"look"},
		 "variations":[{"url":"https://cdn.example.com/b.png","caption":"b"}]},
		{"kind":"wait","seconds":5},
		{"kind":"ai","system_prompt":"be brief","user_prompt":"greet {name}"}
	]}`

	var spec MessageSpec
	require.NoError(t, json.Unmarshal([]byte(payload), &spec))
	require.Len(t, spec.Steps, 3)

	media, ok := spec.Steps[0].(MediaStep)
	require.True(t, ok)
	assert.Equal(t, StepImage, media.Kind())
	assert.Len(t, media.Variations, 1)

	wait, ok := spec.Steps[1].(WaitStep)
	require.True(t, ok)
	assert.Equal(t, 5, wait.Seconds)

	assert.Equal(t, StepAI, spec.Steps[2].Kind())
	assert.NoError(t, spec.Validate())
}

func TestMessageSpec_UnmarshalBareArray(t *testing.T) {
	var spec MessageSpec
	require.NoError(t, json.Unmarshal([]byte(`[{"kind":"text","body":"a"},{"kind":"document","media":{"url":"https://x/y.pdf","file_name":"y.pdf"}}]`), &spec))
	require.Len(t, spec.Steps, 2)
	assert.Equal(t, StepDocument, spec.Steps[1].Kind())
}

func TestMessageSpec_UnknownKindRejected(t *testing.T) {
	var spec MessageSpec
	err := json.Unmarshal([]byte(`{"steps":[{"kind":"sticker"}]}`), &spec)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"steps":[{"body":"no kind"}]}`), &spec)
	assert.Error(t, err)
}

func TestMessageSpec_MarshalKeepsKind(t *testing.T) {
	spec := MessageSpec{Steps: []Step{
		TextStep{Body: "hello"},
		MediaStep{Type: StepVideo, Media: MediaContent{URL: "https://x/v.mp4"}},
		WaitStep{Seconds: 3},
	}}

	data, err := json.Marshal(spec)
	require.NoError(t, err)

	var decoded MessageSpec
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Steps, 3)
	assert.Equal(t, StepText, decoded.Steps[0].Kind())
	assert.Equal(t, StepVideo, decoded.Steps[1].Kind())
	assert.Equal(t, WaitStep{Seconds: 3}, decoded.Steps[2])
}

func TestMessageSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    MessageSpec
		wantErr bool
	}{
		{"empty", MessageSpec{}, true},
		{"only wait", MessageSpec{Steps: []Step{WaitStep{Seconds: 2}}}, true},
		{"blank text", MessageSpec{Steps: []Step{TextStep{Body: "  "}}}, true},
		{"variations only", MessageSpec{Steps: []Step{TextStep{Variations: []string{"a", "b"}}}}, false},
		{"media without url", MessageSpec{Steps: []Step{MediaStep{Type: StepImage}}}, true},
		{"too many media variations", MessageSpec{Steps: []Step{MediaStep{
			Type: StepImage,
			Variations: []MediaContent{
				{URL: "1"}, {URL: "2"}, {URL: "3"}, {URL: "4"}, {URL: "5"},
			},
		}}}, true},
		{"ai without prompt", MessageSpec{Steps: []Step{AIStep{SystemPrompt: "x"}}}, true},
		{"wait too long", MessageSpec{Steps: []Step{TextStep{Body: "a"}, WaitStep{Seconds: MaxWaitSeconds + 1}}}, true},
		{"valid sequence", MessageSpec{Steps: []Step{TextStep{Body: "a"}, WaitStep{Seconds: 1}, AIStep{UserPrompt: "p"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMessageSpec_ScanValue(t *testing.T) {
	spec := MessageSpec{Steps: []Step{TextStep{Body: "db"}}}
	v, err := spec.Value()
	require.NoError(t, err)

	var scanned MessageSpec
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, spec.Steps, scanned.Steps)
}
