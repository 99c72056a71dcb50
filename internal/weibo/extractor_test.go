package weibo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediagrab/harvester/internal/harvest"
)

func intPtr(v int) *int { return &v }

func TestExtractMedia_PrefersLargeImageVariant(t *testing.T) {
	t.Parallel()

	post := &Post{
		Pics: []Pic{
			{
				URL: "https://img.example.com/small/a.jpg",
				Geo: geo(320, 240),
				Large: &PicVariant{
					URL: "https://img.example.com/large/a.jpg",
					Geo: geo(2048, 1536),
				},
			},
			{
				URL: "https://img.example.com/small/b.jpg",
				Geo: geo(320, 240),
			},
		},
	}

	medias := ExtractMedia(post, "https://m.weibo.cn/detail/1")
	require.Len(t, medias, 2)
	require.Equal(t, "https://img.example.com/large/a.jpg", medias[0].OriginURL)
	require.Equal(t, harvest.MediaImage, medias[0].Kind)
	require.Equal(t, intPtr(2048), medias[0].Width)
	require.Equal(t, "https://img.example.com/small/b.jpg", medias[1].OriginURL)
	require.Equal(t, intPtr(320), medias[1].Width)
	require.Equal(t, "https://m.weibo.cn/detail/1", medias[1].PostURL)
}

func TestExtractMedia_InlineVideoUsesVideoSrc(t *testing.T) {
	t.Parallel()

	post := &Post{
		Pics: []Pic{
			{
				URL:      "https://img.example.com/poster.jpg",
				Type:     "video",
				VideoSrc: "https://video.example.com/stream.mp4",
				Geo:      geo(720, 1280),
			},
		},
	}

	medias := ExtractMedia(post, "p")
	require.Len(t, medias, 1)
	require.Equal(t, harvest.MediaVideo, medias[0].Kind)
	require.Equal(t, "https://video.example.com/stream.mp4", medias[0].OriginURL)
	require.Equal(t, intPtr(720), medias[0].Width)
}

func TestExtractMedia_PageInfoVideoFallsBackToSDStream(t *testing.T) {
	t.Parallel()

	post := &Post{
		PageInfo: &PageInfo{
			Type: "video",
			MediaInfo: &MediaInfo{
				StreamURL: "https://video.example.com/sd.mp4",
			},
			PagePic: pagePic("540", "960"),
		},
	}

	medias := ExtractMedia(post, "p")
	require.Len(t, medias, 1)
	require.Equal(t, harvest.MediaVideo, medias[0].Kind)
	require.Equal(t, "https://video.example.com/sd.mp4", medias[0].OriginURL)
	require.Equal(t, intPtr(540), medias[0].Width)
	require.Equal(t, intPtr(960), medias[0].Height)
}

func TestExtractMedia_PageInfoVideoPrefersHD(t *testing.T) {
	t.Parallel()

	post := &Post{
		PageInfo: &PageInfo{
			Type: "video",
			MediaInfo: &MediaInfo{
				StreamURLHD: "https://video.example.com/hd.mp4",
				StreamURL:   "https://video.example.com/sd.mp4",
			},
		},
	}

	medias := ExtractMedia(post, "p")
	require.Len(t, medias, 1)
	require.Equal(t, "https://video.example.com/hd.mp4", medias[0].OriginURL)
}

func TestExtractMedia_PageInfoVideoFallsBackToFormatMap(t *testing.T) {
	t.Parallel()

	post := &Post{
		PageInfo: &PageInfo{
			Type: "video",
			URLs: json.RawMessage(`{"mp4_720p_mp4":"https://video.example.com/720.mp4","mp4_hd_mp4":"https://video.example.com/hd.mp4"}`),
		},
	}

	medias := ExtractMedia(post, "p")
	require.Len(t, medias, 1)
	// First entry in document order wins, whatever its key.
	require.Equal(t, "https://video.example.com/720.mp4", medias[0].OriginURL)
}

func TestExtractMedia_PageInfoDimensionsDefaultToZero(t *testing.T) {
	t.Parallel()

	post := &Post{
		PageInfo: &PageInfo{
			Type:      "video",
			MediaInfo: &MediaInfo{StreamURL: "https://video.example.com/sd.mp4"},
			PagePic:   pagePic("not-a-number", ""),
		},
	}

	medias := ExtractMedia(post, "p")
	require.Len(t, medias, 1)
	require.Equal(t, intPtr(0), medias[0].Width)
	require.Equal(t, intPtr(0), medias[0].Height)
}

func TestExtractMedia_MergesPicsAndPageInfoVideo(t *testing.T) {
	t.Parallel()

	post := &Post{
		Pics: []Pic{{URL: "https://img.example.com/a.jpg"}},
		PageInfo: &PageInfo{
			Type:      "video",
			MediaInfo: &MediaInfo{StreamURLHD: "https://video.example.com/hd.mp4"},
		},
	}

	medias := ExtractMedia(post, "p")
	require.Len(t, medias, 2)
	require.Equal(t, harvest.MediaImage, medias[0].Kind)
	require.Equal(t, harvest.MediaVideo, medias[1].Kind)
}

func TestExtractMedia_TextOnlyPostYieldsNothing(t *testing.T) {
	t.Parallel()

	post := &Post{Text: "just words"}
	require.Nil(t, ExtractMedia(post, "p"))
	require.False(t, HasMedia(post))
}

func TestHasMedia(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		post *Post
		want bool
	}{
		{"nil post", nil, false},
		{"pic ids only", &Post{PicIDs: []string{"x"}}, true},
		{"inline pics", &Post{Pics: []Pic{{URL: "u"}}}, true},
		{"video page info", &Post{PageInfo: &PageInfo{Type: "video"}}, true},
		{"article page info", &Post{PageInfo: &PageInfo{Type: "article"}}, false},
		{"bare text", &Post{Text: "words"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, HasMedia(tc.post))
		})
	}
}

func TestFlexIntDecoding(t *testing.T) {
	t.Parallel()

	var geo Geo
	require.NoError(t, json.Unmarshal([]byte(`{"width":"1080","height":1920}`), &geo))
	require.Equal(t, intPtr(1080), geo.Width.Int())
	require.Equal(t, intPtr(1920), geo.Height.Int())

	require.NoError(t, json.Unmarshal([]byte(`{"width":"wide","height":null}`), &geo))
	require.Nil(t, geo.Width.Int())
	require.Nil(t, geo.Height.Int())
	require.Zero(t, geo.Width.IntOrZero())
}

func geo(w, h int) Geo {
	var g Geo
	data, _ := json.Marshal(map[string]int{"width": w, "height": h})
	_ = json.Unmarshal(data, &g)
	return g
}

func pagePic(w, h string) PagePic {
	var p PagePic
	data, _ := json.Marshal(map[string]string{"width": w, "height": h, "url": "https://img.example.com/poster.jpg"})
	_ = json.Unmarshal(data, &p)
	return p
}
