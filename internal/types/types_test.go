package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMappingKeyReversed(t *testing.T) {
	key := MappingKey{SourceID: "a", SourceType: "x", TargetID: "b", TargetType: "y"}
	rev := key.Reversed()
	assert.Equal(t, MappingKey{SourceID: "b", SourceType: "y", TargetID: "a", TargetType: "x"}, rev)
	assert.Equal(t, key, rev.Reversed())
}

func TestEntityMappingValidate(t *testing.T) {
	valid := EntityMapping{
		SourceID: "a", SourceType: "x", TargetID: "b", TargetType: "y",
		Confidence: 0.5,
	}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.SourceID = ""
	assert.Error(t, missing.Validate())

	badConf := valid
	badConf.Confidence = 1.1
	assert.Error(t, badConf.Validate())
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.5))
	assert.Equal(t, 1.0, ClampConfidence(1.5))
	assert.Equal(t, 0.7, ClampConfidence(0.7))
}

func TestConfidenceFromLabel(t *testing.T) {
	assert.Equal(t, 0.9, ConfidenceFromLabel("high"))
	assert.Equal(t, 0.9, ConfidenceFromLabel(" High "))
	assert.Equal(t, 0.6, ConfidenceFromLabel("medium"))
	assert.Equal(t, 0.3, ConfidenceFromLabel("low"))
	assert.Equal(t, 0.0, ConfidenceFromLabel("none"))
	assert.Equal(t, 0.0, ConfidenceFromLabel("gibberish"))
}

func TestSupportLevelOrdering(t *testing.T) {
	assert.True(t, SupportFull.AtLeast(SupportPartial))
	assert.True(t, SupportPartial.AtLeast(SupportPartial))
	assert.False(t, SupportNone.AtLeast(SupportPartial))
	assert.True(t, SupportNone.AtLeast(SupportNone))
}

func TestCapabilityName(t *testing.T) {
	assert.Equal(t, "chebi_to_pubchem", CapabilityName("chebi", "pubchem"))
}

func TestResourceMetadataValidate(t *testing.T) {
	ok := ResourceMetadata{Name: "api", Type: ResourceAPI}
	assert.NoError(t, ok.Validate())

	noName := ResourceMetadata{Type: ResourceAPI}
	assert.Error(t, noName.Validate())

	badType := ResourceMetadata{Name: "api", Type: ResourceType("bogus")}
	assert.Error(t, badType.Validate())
}
