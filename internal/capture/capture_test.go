package capture

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"euphoria-magic/internal/store"
)

func photo(w, h float64) Element {
	return Element{
		Node:   Node{Tag: "IMG"},
		Src:    "https://cdn.example.com/photo.jpg",
		Width:  w,
		Height: h,
	}
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		el     func() Element
		ok     bool
		reason string
	}{
		{name: "plain photo", host: "example.com", el: func() Element { return photo(400, 300) }, ok: true},
		{name: "not an img", host: "example.com", el: func() Element {
			e := photo(400, 300)
			e.Tag = "DIV"
			return e
		}, reason: ReasonNotImage},
		{name: "too small elsewhere", host: "example.com", el: func() Element { return photo(180, 180) }, reason: ReasonTooSmall},
		{name: "pinterest smaller threshold", host: "www.pinterest.com", el: func() Element { return photo(180, 180) }, reason: ReasonNotPin},
		{name: "pinterest below its threshold", host: "www.pinterest.com", el: func() Element { return photo(140, 300) }, reason: ReasonTooSmall},
		{name: "pinterest via pinimg", host: "www.pinterest.com", el: func() Element {
			e := photo(180, 180)
			e.Src = "https://i.pinimg.com/236x/aa/bb/cc.jpg"
			return e
		}, ok: true},
		{name: "pinterest via alt", host: "www.pinterest.com", el: func() Element {
			e := photo(180, 180)
			e.Alt = "living room"
			return e
		}, ok: true},
		{name: "pinterest via container", host: "www.pinterest.com", el: func() Element {
			e := photo(180, 180)
			e.Ancestors = []Node{{Tag: "DIV"}, {Tag: "DIV", Attrs: map[string]string{"data-test-id": "pinrep-image"}}}
			return e
		}, ok: true},
		{name: "pinterest via wrapper class", host: "www.pinterest.com", el: func() Element {
			e := photo(180, 180)
			e.Ancestors = []Node{{Tag: "DIV", ClassName: "x pinWrapper y"}}
			return e
		}, ok: true},
		{name: "pinterest wide enough", host: "www.pinterest.com", el: func() Element { return photo(236, 300) }, ok: true},
		{name: "svg placeholder", host: "example.com", el: func() Element {
			e := photo(400, 300)
			e.Src = "data:image/svg+xml;base64,PHN2Zz4="
			return e
		}, reason: ReasonNoSource},
		{name: "empty src", host: "example.com", el: func() Element {
			e := photo(400, 300)
			e.Src = ""
			return e
		}, reason: ReasonNoSource},
		{name: "ui chrome class", host: "example.com", el: func() Element {
			e := photo(400, 300)
			e.ClassName = "hero User-Avatar"
			return e
		}, reason: ReasonUIChrome},
		{name: "opt out", host: "example.com", el: func() Element {
			e := photo(400, 300)
			e.Attrs = map[string]string{"data-no-soul-ai": ""}
			return e
		}, reason: ReasonOptOut},
		{name: "instagram outside post", host: "www.instagram.com", el: func() Element { return photo(400, 400) }, reason: ReasonNotPost},
		{name: "instagram inside article", host: "www.instagram.com", el: func() Element {
			e := photo(400, 400)
			e.Ancestors = []Node{{Tag: "DIV"}, {Tag: "ARTICLE"}}
			return e
		}, ok: true},
		{name: "instagram presentation role", host: "www.instagram.com", el: func() Element {
			e := photo(400, 400)
			e.Ancestors = []Node{{Tag: "DIV", Attrs: map[string]string{"role": "presentation"}}}
			return e
		}, ok: true},
		{name: "banner", host: "example.com", el: func() Element { return photo(1300, 210) }, reason: ReasonAspectRatio},
		{name: "narrow", host: "example.com", el: func() Element { return photo(200, 700) }, reason: ReasonAspectRatio},
		{name: "ratio at bound", host: "example.com", el: func() Element { return photo(900, 300) }, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Eligible(tt.el(), tt.host)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestHighResURL(t *testing.T) {
	tests := []struct {
		name string
		src  string
		host string
		want string
	}{
		{
			name: "pinterest size folder",
			src:  "https://i.pinimg.com/236x/aa/bb/cc.jpg",
			host: "www.pinterest.com",
			want: "https://i.pinimg.com/236x/aa/bb/cc.jpg",
		},
		{
			name: "pinterest dimension folder and suffix",
			src:  "https://i.pinimg.com/474x474/aa/cc_150.jpg",
			host: "www.pinterest.com",
			want: "https://i.pinimg.com/originals/aa/cc_original.jpg",
		},
		{
			name: "instagram size",
			src:  "https://scontent.cdninstagram.com/v/t51/s640x640/abc.jpg",
			host: "www.instagram.com",
			want: "https://scontent.cdninstagram.com/v/t51/s1080x1080/abc.jpg",
		},
		{
			name: "size params everywhere",
			src:  "https://images.example.com/p.jpg?w=300&q=80&height=200",
			host: "example.com",
			want: "https://images.example.com/p.jpg&q=80",
		},
		{
			name: "instagram rule not applied elsewhere",
			src:  "https://cdn.example.com/s640x640/abc.jpg",
			host: "example.com",
			want: "https://cdn.example.com/s640x640/abc.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HighResURL(tt.src, tt.host))
		})
	}
}

func TestWatcher(t *testing.T) {
	var mu sync.Mutex
	var got []Candidate
	fired := make(chan struct{}, 4)

	w := NewWatcher(WatcherOptions{
		Delay: 10 * time.Millisecond,
		OnEligible: func(host string, c Candidate) {
			mu.Lock()
			got = append(got, c)
			mu.Unlock()
			fired <- struct{}{}
		},
	})
	defer w.Stop()

	small := photo(50, 50)
	w.Inserted("example.com", small)
	w.Inserted("example.com", photo(400, 300))
	w.Inserted("example.com", Element{Node: Node{Tag: "IMG"}, Src: "https://cdn.example.com/other.jpg", Width: 10, Height: 10})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never fired")
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, "https://cdn.example.com/photo.jpg", got[0].Src)
	mu.Unlock()

	w.Inserted("example.com", photo(400, 300))
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Len(t, got, 1, "marked images are not reported twice")
	mu.Unlock()

	assert.Len(t, w.Marked("example.com"), 1)
	assert.Empty(t, w.Marked("other.com"))
}

func waitMarked(t *testing.T, w *Watcher, host string, n int) []Candidate {
	t.Helper()
	var got []Candidate
	require.Eventually(t, func() bool {
		got = w.Marked(host)
		return len(got) == n
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestWatcher_BoundsMarkedPerHost(t *testing.T) {
	w := NewWatcher(WatcherOptions{Delay: time.Millisecond, MaxPerHost: 3})
	defer w.Stop()

	for i := range 5 {
		el := photo(400, 300)
		el.Src = fmt.Sprintf("https://cdn.example.com/photo-%d.jpg", i)
		w.Inserted("example.com", el)
		require.Eventually(t, func() bool {
			got := w.Marked("example.com")
			return len(got) > 0 && got[len(got)-1].Src == el.Src
		}, 2*time.Second, 5*time.Millisecond)
	}

	got := w.Marked("example.com")
	require.Len(t, got, 3)
	assert.Equal(t, "https://cdn.example.com/photo-2.jpg", got[0].Src)
	assert.Equal(t, "https://cdn.example.com/photo-4.jpg", got[2].Src)
}

func TestWatcher_BoundsPendingPerHost(t *testing.T) {
	w := NewWatcher(WatcherOptions{Delay: time.Hour, MaxPerHost: 2})
	defer w.Stop()

	for i := range 10 {
		el := photo(400, 300)
		el.Src = fmt.Sprintf("https://cdn.example.com/p-%d.jpg", i)
		w.Inserted("example.com", el)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	pending := w.hosts["example.com"].pending
	assert.Len(t, pending, 2)
	assert.Contains(t, pending, "https://cdn.example.com/p-9.jpg")
	assert.Contains(t, pending, "https://cdn.example.com/p-8.jpg")
}

func TestWatcher_EvictsLeastRecentHost(t *testing.T) {
	w := NewWatcher(WatcherOptions{Delay: time.Millisecond, MaxHosts: 2})
	defer w.Stop()

	w.Inserted("a.com", photo(400, 300))
	waitMarked(t, w, "a.com", 1)
	w.Inserted("b.com", photo(400, 300))
	waitMarked(t, w, "b.com", 1)
	w.Inserted("a.com", photo(400, 300))
	w.Inserted("c.com", photo(400, 300))
	waitMarked(t, w, "c.com", 1)

	assert.Len(t, w.Marked("a.com"), 1)
	assert.Empty(t, w.Marked("b.com"))
	w.mu.Lock()
	assert.Len(t, w.hosts, 2)
	w.mu.Unlock()
}

type fakeRefs struct {
	saved store.ReferenceImage
}

func (f *fakeRefs) SetReference(ctx context.Context, ref store.ReferenceImage) (store.ReferenceImage, error) {
	ref.Timestamp = 99
	f.saved = ref
	return ref, nil
}

func TestSelect(t *testing.T) {
	refs := &fakeRefs{}
	ref, err := Select(context.Background(), refs, Selection{
		Src:       "https://i.pinimg.com/474x474/aa/cc_150.jpg",
		PageURL:   "https://www.pinterest.com/pin/123/",
		PageTitle: "Cozy cabin",
	})
	require.NoError(t, err)
	assert.Equal(t, store.ReferenceImage{
		URL:       "https://i.pinimg.com/originals/aa/cc_original.jpg",
		PageURL:   "https://www.pinterest.com/pin/123/",
		PageTitle: "Cozy cabin",
		Timestamp: 99,
	}, ref)
	assert.Equal(t, ref, refs.saved)

	_, err = Select(context.Background(), refs, Selection{})
	assert.Error(t, err)
}
