package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/query"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "what did I eat", query.Normalize("  what   did I\teat?? "))
	assert.Equal(t, "", query.Normalize(" ?! "))
}

func TestExtractEntities(t *testing.T) {
	testCases := []struct {
		text string
		want []string
	}{
		{"What did Alice say about New York?", []string{"Alice", "New York"}},
		{`notes on "project phoenix" with Bob`, []string{"project phoenix", "Bob"}},
		{"dinner with Alice, Bob and Carol", []string{"Alice", "Bob", "Carol"}},
		{"Thoughts about career changes", []string{}},
		{"Hiking trips last summer", []string{}},
		{"Dentist appointment with Bob", []string{"Bob"}},
		{"New York trip", []string{"New York"}},
		{"Alice's birthday plans", []string{"Alice"}},
		{"Went out. Dinner with Maya", []string{"Maya"}},
		{"Where is Alice's dog", []string{"Alice"}},
		{"what did I do on Monday in May", []string{}},
		{"The Beatles concert", []string{"Beatles"}},
		{"alice alice", []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			got := query.ExtractEntities(tc.text)
			if len(tc.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		text string
		want memory.QueryType
	}{
		{"what did I do last week", memory.QueryRecent},
		{"anything recently about Alice", memory.QueryRecent},
		{"where does Alice live", memory.QueryEntity},
		{"what is my favorite color", memory.QueryFactual},
		{"thoughts about career changes", memory.QueryExploratory},
		{"Thoughts about career changes", memory.QueryExploratory},
		{"Hiking trips last summer", memory.QueryExploratory},
		{"Dentist appointment", memory.QueryExploratory},
		{"Dentist appointment with Bob", memory.QueryEntity},
		{"", memory.QueryDefault},
		{"???", memory.QueryDefault},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, query.Classify(tc.text), tc.text)
	}
}

func TestPronouns(t *testing.T) {
	assert.True(t, query.HasPronoun("what does she like"))
	assert.False(t, query.HasPronoun("what do I like"))
	assert.Equal(t, "what does Alice like", query.ReplaceFirstPronoun("what does she like", "Alice"))
	assert.Equal(t, "tell me about Alice's job", query.ReplaceFirstPronoun("tell me about her job", "Alice"))
	assert.Equal(t, "I called Alice", query.ReplaceFirstPronoun("I called her", "Alice"))
	assert.Equal(t, "I called Alice yesterday", query.ReplaceFirstPronoun("I called her yesterday", "Alice"))
	assert.Equal(t, "gift for Alice, then lunch", query.ReplaceFirstPronoun("gift for her, then lunch", "Alice"))
	assert.Equal(t, "no pronoun", query.ReplaceFirstPronoun("no pronoun", "Alice"))
}
