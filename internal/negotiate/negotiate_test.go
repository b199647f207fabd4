package negotiate

import (
	"testing"

	"reelstream/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func media(ext, codec string, w, h int) *models.MediaFile {
	return &models.MediaFile{
		Directory:  "/library",
		FileName:   "film." + ext,
		Extension:  ext,
		VideoCodec: codec,
		Width:      intPtr(w),
		Height:     intPtr(h),
	}
}

func TestPassThroughOnlyForPlainAVCInMP4(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want bool
	}{
		{"avc mp4", Request{Media: media("mp4", "AVC", 1280, 720)}, true},
		{"avc mp4 seek", Request{Media: media("mp4", "AVC", 1280, 720), Seek: 30}, false},
		{"avc mp4 subtitles", Request{Media: media("mp4", "AVC", 1280, 720), Subtitles: 1}, false},
		{"hevc mp4", Request{Media: media("mp4", "HEVC", 1280, 720)}, false},
		{"avc mkv", Request{Media: media("mkv", "AVC", 1280, 720)}, false},
		{"avi", Request{Media: media("avi", "MPEG-4", 640, 480)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Negotiate(tt.req, DefaultQualities)
			assert.Equal(t, tt.want, d.PassThrough)
			if !d.PassThrough {
				assert.Contains(t, []Container{WebM, Matroska}, d.Params.Container)
			}
		})
	}
}

func TestContainerAndQuality(t *testing.T) {
	d := Negotiate(Request{Media: media("mkv", "AVC", 1280, 720)}, DefaultQualities)
	assert.Equal(t, WebM, d.Params.Container)
	assert.Equal(t, 24, d.Params.Quality)
	assert.Equal(t, "/library/film.mkv", d.Params.Source)

	d = Negotiate(Request{Media: media("mkv", "AVC", 1280, 720), Client: Client{Matroska: true}}, DefaultQualities)
	assert.Equal(t, Matroska, d.Params.Container)
	assert.Equal(t, 20, d.Params.Quality)

	prefs := &models.UserPreferences{Quality: intPtr(30)}
	d = Negotiate(Request{Media: media("mkv", "AVC", 1280, 720), Prefs: prefs}, DefaultQualities)
	assert.Equal(t, 30, d.Params.Quality)
}

func TestScaling(t *testing.T) {
	prefs := &models.UserPreferences{MaxWidth: intPtr(1280)}
	d := Negotiate(Request{Media: media("mkv", "AVC", 1920, 1080), Prefs: prefs}, DefaultQualities)
	require.NotNil(t, d.Params.Scale)
	assert.Equal(t, Scale{Width: 1280, Height: 1080 * 1280 / 1920}, *d.Params.Scale)

	// 1000x563 scaled to 640: floor(563*640/1000) = 360
	d = Negotiate(Request{Media: media("mkv", "AVC", 1000, 563), Prefs: &models.UserPreferences{MaxWidth: intPtr(640)}}, DefaultQualities)
	require.NotNil(t, d.Params.Scale)
	assert.Equal(t, 360, d.Params.Scale.Height)

	for _, maxWidth := range []int{1920, 2560} {
		d = Negotiate(Request{Media: media("mkv", "AVC", 1920, 1080), Prefs: &models.UserPreferences{MaxWidth: intPtr(maxWidth)}}, DefaultQualities)
		assert.Nil(t, d.Params.Scale, "max width %d", maxWidth)
	}
}

func TestClientFromRequest(t *testing.T) {
	chrome := "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
	firefox := "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"

	assert.True(t, ClientFromRequest("", chrome).Matroska)
	assert.False(t, ClientFromRequest("", firefox).Matroska)
	assert.True(t, ClientFromRequest("matroska", firefox).Matroska)
	assert.False(t, ClientFromRequest("webm", chrome).Matroska)
}
