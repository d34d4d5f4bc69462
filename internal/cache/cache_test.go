package cache

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestSetGet(t *testing.T) {
	c, err := New(Config{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer c.Close()

	c.Set("/articles/hello", []byte("<html>hello</html>"))
	c.Wait()

	body, ok := c.Get("/articles/hello")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(body) != "<html>hello</html>" {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	c, err := New(Config{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer c.Close()

	c.Set("/a", []byte("a"))
	c.Wait()

	c.Get("/a")
	c.Get("/missing")

	st := c.Stats()
	if st.Hits != 1 {
		t.Errorf("hits = %d, want 1", st.Hits)
	}
	if st.Misses != 1 {
		t.Errorf("misses = %d, want 1", st.Misses)
	}
}

func TestClear(t *testing.T) {
	c, err := New(Config{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer c.Close()

	c.Set("/a", []byte("a"))
	c.Wait()
	c.Clear()

	if _, ok := c.Get("/a"); ok {
		t.Error("expected miss after Clear")
	}
}
