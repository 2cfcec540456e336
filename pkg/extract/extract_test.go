package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumericReference(t *testing.T) {
	tests := []struct {
		text    string
		want    int
		ordinal bool
		ok      bool
	}{
		{"edit image 2", 2, false, true},
		{"Edit IMAGE3 please", 3, false, true},
		{"use image 12 as the base", 12, false, true},
		{"make the second image brighter", 2, true, true},
		{"Tenth image, please", 10, true, true},
		{"image 4 and the first image", 4, false, true},
		{"open image2.png", 2, false, true},
		{"edit ｉｍａｇｅ ５", 5, false, true},
		{"put image 99999999999999999999 on the logo", -1, false, true},
		{"make it red", 0, false, false},
		{"first of all, the image", 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := NumericReference(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.Index)
				assert.Equal(t, tt.ordinal, got.Ordinal)
			}
		})
	}
}

func TestRecencyReference(t *testing.T) {
	tests := []struct {
		text string
		want RecencyKind
		ok   bool
	}{
		{"make the last image red", RecencyLast, true},
		{"use the latest one", RecencyLast, true},
		{"the most recent video is too dark", RecencyLast, true},
		{"crop the previous image", RecencyPrevious, true},
		{"prior media looked better", RecencyPrevious, true},
		{"make that image bigger", RecencyThat, true},
		{"I like this one", RecencyThat, true},
		{"first video please", RecencyFirst, true},
		{"lastly, add a hat", "", false},
		{"make it blue", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := RecencyReference(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestFilenameReferences(t *testing.T) {
	assert.Equal(t, []string{"logo.png"}, FilenameReferences("Put Logo.PNG on the banner"))
	assert.Equal(t, []string{"a.jpg", "b_2.webp"}, FilenameReferences("swap a.jpg with b_2.webp and a.jpg"))
	assert.Equal(t, []string{"clip-1.mov"}, FilenameReferences("trim clip-1.mov"))
	assert.Nil(t, FilenameReferences("notes.txt is not media"))
	assert.Nil(t, FilenameReferences("make it red"))
}

func TestHasMultiImageOperation(t *testing.T) {
	for _, text := range []string{
		"Combine these",
		"merge them",
		"make a collage",
		"which is better?",
		"put them side by side",
		"edit the first using reference style",
		"use both",
	} {
		assert.True(t, HasMultiImageOperation(text), text)
	}
	assert.False(t, HasMultiImageOperation("make it red"))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "logo", BaseName("logo.png"))
	assert.Equal(t, "cat.final", BaseName("dir/cat.final.jpg"))
	assert.Equal(t, ".hidden", BaseName(".hidden"))
	assert.Equal(t, "photo", BaseName(`C:\shots\photo.jpeg`))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "image 5", Fold("IMAGE ５"))
	assert.True(t, ContainsAny("MERGE these", "merge"))
}
