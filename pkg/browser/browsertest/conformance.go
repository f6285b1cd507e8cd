package browsertest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgast/pagecheck/pkg/browser"
)

// SiteHTML is a small page exercising everything a Session reports on.
const SiteHTML = `<!DOCTYPE html>
<html><head><title>Portfolio</title>
<style>
  .nav { position: sticky; top: 0; height: 40px; }
  .hero { display: none; height: 200px; }
  .hero.active { display: flex; animation: fade 300ms ease-out 1; }
  .modal { display: none; }
  .spinner { animation: spin 1s linear infinite; width: 10px; height: 10px; }
  @keyframes fade { from { opacity: 0 } to { opacity: 1 } }
  @keyframes spin { to { transform: rotate(360deg) } }
</style></head>
<body>
  <nav class="nav"><a href="#projects">Projects</a> <a href="#contact">Contact</a></nav>
  <section class="hero active">hello</section>
  <div class="modal">hidden</div>
  <div class="spinner"></div>
  <section id="projects" style="height: 1200px">projects</section>
  <section id="contact" style="height: 400px">contact</section>
  <script>
    setTimeout(() => {
      const el = document.createElement("div");
      el.className = "late";
      el.textContent = "late";
      document.body.appendChild(el);
    }, 300);
  </script>
</body></html>`

// NewSite serves SiteHTML at "/" and 404 everywhere else.
func NewSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, SiteHTML)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// RunConformance checks a real driver against NewSite. Drivers call it
// from tests behind the "browser" build tag.
func RunConformance(t *testing.T, d browser.Driver) {
	srv := NewSite(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sess, err := d.Launch(ctx, browser.LaunchOptions{Headless: true, Width: 1024, Height: 768})
	require.NoError(t, err)
	defer func() { assert.NoError(t, sess.Close()) }()

	within := func(d time.Duration) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, d)
	}

	t.Run("Navigate", func(t *testing.T) {
		c, done := within(20 * time.Second)
		defer done()
		require.NoError(t, sess.Navigate(c, srv.URL))
	})

	t.Run("Title", func(t *testing.T) {
		title, err := sess.Title(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Portfolio", title)
	})

	t.Run("ComputedStyle", func(t *testing.T) {
		pos, err := sess.ComputedStyle(ctx, ".nav", "position")
		require.NoError(t, err)
		assert.Equal(t, "sticky", pos)

		display, err := sess.ComputedStyle(ctx, ".hero.active", "display")
		require.NoError(t, err)
		assert.Equal(t, "flex", display)

		_, err = sess.ComputedStyle(ctx, ".missing", "display")
		assert.ErrorIs(t, err, browser.ErrElementNotFound)
	})

	t.Run("Visible", func(t *testing.T) {
		visible, err := sess.Visible(ctx, ".hero")
		require.NoError(t, err)
		assert.True(t, visible)

		visible, err = sess.Visible(ctx, ".modal")
		require.NoError(t, err)
		assert.False(t, visible)
	})

	t.Run("WaitAttached", func(t *testing.T) {
		c, done := within(5 * time.Second)
		defer done()
		require.NoError(t, sess.WaitAttached(c, ".late"))

		c, done = within(300 * time.Millisecond)
		defer done()
		assert.ErrorIs(t, sess.WaitAttached(c, ".never"), browser.ErrElementNotFound)
	})

	t.Run("Settled", func(t *testing.T) {
		deadline := time.Now().Add(5 * time.Second)
		for {
			settled, err := sess.Settled(ctx)
			require.NoError(t, err)
			if settled {
				break
			}
			require.True(t, time.Now().Before(deadline), "page never settled; the infinite spinner must be ignored")
			time.Sleep(50 * time.Millisecond)
		}
	})

	t.Run("Click", func(t *testing.T) {
		c, done := within(5 * time.Second)
		defer done()
		require.NoError(t, sess.Click(c, "a[href='#contact']"))

		c, done = within(300 * time.Millisecond)
		defer done()
		assert.ErrorIs(t, sess.Click(c, "a[href='#nowhere']"), browser.ErrElementNotFound)
	})

	t.Run("Screenshot", func(t *testing.T) {
		png, err := sess.Screenshot(ctx)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "screenshot is not a PNG")
	})

	t.Run("NavigateNotFound", func(t *testing.T) {
		c, done := within(20 * time.Second)
		defer done()
		err := sess.Navigate(c, srv.URL+"/missing.html")
		assert.True(t, errors.Is(err, browser.ErrNavigation), "got %v", err)
	})
}
