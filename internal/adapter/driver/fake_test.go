package driver

import (
	"context"
	"testing"

	"pagelens/internal/domain"
)

const fakeDoc = `<!DOCTYPE html>
<html><head><title>Fake Page</title></head>
<body>
  <h1>Welcome</h1>
  <button id="submit">Submit</button>
</body></html>`

const fakeDocAfterClick = `<!DOCTYPE html>
<html><head><title>Fake Page</title></head>
<body>
  <h1>Thanks</h1>
  <p>Order placed.</p>
</body></html>`

func newNavigatedFake(t *testing.T) *Fake {
	t.Helper()
	f := NewFake(map[string]string{"https://shop.test/": fakeDoc})
	if err := f.Navigate(context.Background(), "https://shop.test/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	return f
}

func stampButton(t *testing.T, f *Fake, gen string) domain.RefStamp {
	t.Helper()
	snap, err := f.ReadDOM(context.Background())
	if err != nil {
		t.Fatalf("read dom: %v", err)
	}
	for _, n := range snap.Nodes {
		if n.Tag == "button" {
			stamp := domain.RefStamp{Ref: 1, Path: n.Path}
			if err := f.StampRefs(context.Background(), gen, []domain.RefStamp{stamp}); err != nil {
				t.Fatalf("stamp: %v", err)
			}
			return stamp
		}
	}
	t.Fatal("button not found in snapshot")
	return domain.RefStamp{}
}

func TestFakeNavigateAndReadDOM(t *testing.T) {
	f := newNavigatedFake(t)

	snap, err := f.ReadDOM(context.Background())
	if err != nil {
		t.Fatalf("read dom: %v", err)
	}
	if snap.Title != "Fake Page" {
		t.Errorf("title = %q", snap.Title)
	}
	if snap.URL != "https://shop.test/" {
		t.Errorf("url = %q", snap.URL)
	}
	var sawButton bool
	for _, n := range snap.Nodes {
		if n.Tag == "button" && n.Text == "Submit" {
			sawButton = true
		}
	}
	if !sawButton {
		t.Error("snapshot missing the submit button")
	}
}

func TestFakeNavigateUnknownURL(t *testing.T) {
	f := NewFake(map[string]string{})
	err := f.Navigate(context.Background(), "https://nowhere.test/")
	if err == nil {
		t.Fatal("expected error for unknown url")
	}
}

func TestFakeStampAndResolve(t *testing.T) {
	f := newNavigatedFake(t)
	stampButton(t, f, "gen-1")

	target, err := f.ResolveRef(context.Background(), "gen-1", 1, "button")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if target.Selector != RefSelector(1) {
		t.Errorf("target = %q", target.Selector)
	}
}

func TestFakeResolveSupersededGeneration(t *testing.T) {
	f := newNavigatedFake(t)
	stampButton(t, f, "gen-2")

	_, err := f.ResolveRef(context.Background(), "gen-1", 1, "button")
	if !domain.IsStaleRef(err) {
		t.Errorf("superseded generation: err = %v, want stale ref", err)
	}
}

func TestFakeResolveAfterStructuralChange(t *testing.T) {
	f := newNavigatedFake(t)
	stampButton(t, f, "gen-1")

	// The document changed shape under the stamped ref.
	f.SwapDoc(fakeDocAfterClick)

	_, err := f.ResolveRef(context.Background(), "gen-1", 1, "button")
	if !domain.IsStaleRef(err) {
		t.Errorf("structural change: err = %v, want stale ref", err)
	}
}

func TestFakeResolveTagMismatch(t *testing.T) {
	f := newNavigatedFake(t)
	stampButton(t, f, "gen-1")

	_, err := f.ResolveRef(context.Background(), "gen-1", 1, "a")
	if !domain.IsStaleRef(err) {
		t.Errorf("tag mismatch: err = %v, want stale ref", err)
	}
}

func TestFakeClickSwapsDocument(t *testing.T) {
	f := newNavigatedFake(t)
	f.OnClick[RefSelector(1)] = fakeDocAfterClick
	stampButton(t, f, "gen-1")

	target, err := f.ResolveRef(context.Background(), "gen-1", 1, "button")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := f.Click(context.Background(), target); err != nil {
		t.Fatalf("click: %v", err)
	}

	snap, err := f.ReadDOM(context.Background())
	if err != nil {
		t.Fatalf("read dom: %v", err)
	}
	var sawThanks bool
	for _, n := range snap.Nodes {
		if n.Tag == "h1" && n.Text == "Thanks" {
			sawThanks = true
		}
	}
	if !sawThanks {
		t.Error("post-click snapshot should show the new document")
	}
	if len(f.Clicked) != 1 {
		t.Errorf("clicks recorded = %d", len(f.Clicked))
	}
}

func TestFakeScreenshotsDiffer(t *testing.T) {
	f := newNavigatedFake(t)
	a, err := f.Screenshot(context.Background())
	if err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	b, err := f.Screenshot(context.Background())
	if err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	if string(a) == string(b) {
		t.Error("successive screenshots should differ")
	}
}

func TestFakeCloseCounts(t *testing.T) {
	f := newNavigatedFake(t)
	if err := f.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if f.CloseCalls != 2 {
		t.Errorf("close calls = %d", f.CloseCalls)
	}
}

func TestFakeExistsForStampedRef(t *testing.T) {
	f := newNavigatedFake(t)
	stampButton(t, f, "gen-1")

	found, err := f.Exists(context.Background(), domain.Target{Selector: RefSelector(1)})
	if err != nil || !found {
		t.Errorf("stamped ref exists = %v, %v", found, err)
	}
	found, err = f.Exists(context.Background(), domain.Target{Selector: RefSelector(9)})
	if err != nil || found {
		t.Errorf("unstamped ref exists = %v, %v", found, err)
	}
}
