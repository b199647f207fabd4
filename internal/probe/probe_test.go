package probe

import (
	"context"
	"io"
	"testing"
	"time"

	"reelstream/internal/tools"
	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediainfoSample = `General
Complete name                            : /library/movies/film.mkv
Format                                   : Matroska
Duration                                 : 2 h 5 min

Video
ID                                       : 1
Format                                   : AVC
Format/Info                              : Advanced Video Codec
Duration                                 : 1 h 32 min
Width                                    : 1 920 pixels
Height                                   : 1 080 pixels

Audio
ID                                       : 2
Format                                   : AAC LC
`

const mkvinfoSample = `+ EBML head
+ Segment: size 1234
|+ Tracks
| + Track
|  + Track number: 1 (track ID for mkvmerge & mkvextract: 0)
|  + Track type: video
|  + Codec ID: V_MPEG4/ISO/AVC
| + Track
|  + Track number: 2 (track ID for mkvmerge & mkvextract: 1)
|  + Track type: audio
|  + Codec ID: A_AAC
| + Track
|  + Track number: 3 (track ID for mkvmerge & mkvextract: 2)
|  + Track type: subtitles
|  + Codec ID: S_TEXT/UTF8
|  + Language: spa
| + Track
|  + Track number: 5
|  + Name: English subtitles
|  + Track type: subtitles
|  + Codec ID: S_TEXT/ASS
`

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestParseMediaInfo(t *testing.T) {
	info := ParseMediaInfo(mediainfoSample)

	require.NotNil(t, info.Width)
	require.NotNil(t, info.Height)
	assert.Equal(t, 1920, *info.Width)
	assert.Equal(t, 1080, *info.Height)
	assert.Equal(t, "AVC", info.VideoCodec)
	assert.Equal(t, "AACLC", info.AudioCodec)
	require.NotNil(t, info.Duration)
	assert.Equal(t, int64(92*60), *info.Duration)
}

func TestParseMediaInfoMissingFields(t *testing.T) {
	info := ParseMediaInfo("General\nFormat : MPEG-4\n")
	assert.Nil(t, info.Width)
	assert.Nil(t, info.Height)
	assert.Nil(t, info.Duration)
	assert.Empty(t, info.VideoCodec)
}

func TestParseMediaInfoMPEG4Visual(t *testing.T) {
	info := ParseMediaInfo("Video\nFormat : MPEG-4 Visual\n")
	assert.Equal(t, "MPEG-4", info.VideoCodec)
}

func TestParseMkvInfo(t *testing.T) {
	tracks := ParseMkvInfo(mkvinfoSample)
	require.Len(t, tracks, 2)

	assert.True(t, tracks[0].IsInternal)
	assert.Equal(t, 2, tracks[0].TrackIndex)
	assert.Equal(t, "S_TEXT/UTF8", tracks[0].CodecID)
	assert.Equal(t, "spa", tracks[0].Language)
	assert.Equal(t, "track:2", tracks[0].Label)

	// no mkvextract id printed: number - 1
	assert.Equal(t, 4, tracks[1].TrackIndex)
	assert.Equal(t, "S_TEXT/ASS", tracks[1].CodecID)
}

func TestSubtitleTracksCachedAndMatroskaOnly(t *testing.T) {
	runner := tools.NewFakeRunner()
	runner.On("mkvinfo", func(args []string) ([]byte, error) {
		return []byte(mkvinfoSample), nil
	})

	p := NewProber(runner, "", "", time.Minute, quietLogger())
	defer p.Close()

	mkv := &models.MediaFile{Directory: "/library", FileName: "film.mkv", Extension: "mkv"}
	for i := 0; i < 2; i++ {
		tracks, err := p.SubtitleTracks(context.Background(), mkv)
		require.NoError(t, err)
		assert.Len(t, tracks, 2)
	}
	assert.Equal(t, []string{"/library/film.mkv"}, runner.CallsTo("mkvinfo"))

	mp4 := &models.MediaFile{Directory: "/library", FileName: "film.mp4", Extension: "mp4"}
	tracks, err := p.SubtitleTracks(context.Background(), mp4)
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestInspect(t *testing.T) {
	runner := tools.NewFakeRunner()
	runner.On("mediainfo", func(args []string) ([]byte, error) {
		return []byte(mediainfoSample), nil
	})

	p := NewProber(runner, "mediainfo", "mkvinfo", time.Minute, quietLogger())
	defer p.Close()

	info, err := p.Inspect(context.Background(), "/library/film.mkv")
	require.NoError(t, err)
	assert.Equal(t, "AVC", info.VideoCodec)
}
