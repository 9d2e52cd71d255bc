package smarterer_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/okian/badgeboard/internal/adapters/smarterer"
	"github.com/okian/badgeboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init(logger.WithOutput(io.Discard))
}

func newServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *smarterer.Client) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := smarterer.New(
		smarterer.WithBaseURLs(srv.URL+"/api/", srv.URL+"/oauth"),
		smarterer.WithClientCredentials("app-id", "app-secret"),
		smarterer.WithTimeout(2*time.Second),
	)
	return srv, c
}

func TestBadges(t *testing.T) {
	Convey("Given a remote badge endpoint", t, func() {
		var got *http.Request
		_, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			got = r
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"badges":[{"quiz":{"id":17,"url_slug":"t1","name":"Go"},"badge":{"raw_score":72.5,"image":"http://img/a.png"}}]}`)
		})

		Convey("It sends the token, client id and test filter", func() {
			resp, err := c.Badges(context.Background(), "tok_alice", "t1", "t2")
			So(err, ShouldBeNil)
			So(got.URL.Path, ShouldEqual, "/api/badges")
			So(got.URL.Query().Get("access_token"), ShouldEqual, "tok_alice")
			So(got.URL.Query().Get("client_id"), ShouldEqual, "app-id")
			So(got.URL.Query().Get("tests"), ShouldEqual, "t1,t2")

			So(resp.Badges, ShouldHaveLength, 1)
			So(resp.Badges[0].Badge.RawScore, ShouldEqual, 72.5)
			So(resp.Badges[0].Badge.Image, ShouldEqual, "http://img/a.png")
			So(resp.Badges[0].Quiz.TestKey(), ShouldEqual, "t1")
		})

		Convey("It omits the filter when no tests are given", func() {
			_, err := c.Badges(context.Background(), "tok")
			So(err, ShouldBeNil)
			So(got.URL.Query().Has("tests"), ShouldBeFalse)
		})
	})

	Convey("Given an endpoint returning an empty badge list", t, func() {
		_, c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"badges":[]}`)
		})
		resp, err := c.Badges(context.Background(), "tok")
		So(err, ShouldBeNil)
		So(resp.Badges, ShouldBeEmpty)
	})

	Convey("Given an endpoint returning HTTP 500", t, func() {
		_, c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "boom")
		})
		_, err := c.Badges(context.Background(), "tok")

		So(errors.Is(err, smarterer.ErrRemoteAPI), ShouldBeTrue)
		var apiErr *smarterer.RemoteAPIError
		So(errors.As(err, &apiErr), ShouldBeTrue)
		So(apiErr.StatusCode, ShouldEqual, http.StatusInternalServerError)
		So(string(apiErr.Body), ShouldEqual, "boom")
		So(apiErr.Retryable(), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "HTTP 500")
	})

	Convey("Given an endpoint returning HTTP 403", t, func() {
		_, c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
		_, err := c.Badges(context.Background(), "tok")
		var apiErr *smarterer.RemoteAPIError
		So(errors.As(err, &apiErr), ShouldBeTrue)
		So(apiErr.Retryable(), ShouldBeFalse)
	})

	Convey("Given an endpoint returning malformed JSON", t, func() {
		_, c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"badges": [`)
		})
		_, err := c.Badges(context.Background(), "tok")
		So(errors.Is(err, smarterer.ErrRemoteAPI), ShouldBeTrue)
		So(errors.Is(err, smarterer.ErrMalformedReply), ShouldBeTrue)
	})

	Convey("Given a reply without a badges key", t, func() {
		_, c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"error":"nope"}`)
		})
		_, err := c.Badges(context.Background(), "tok")
		So(errors.Is(err, smarterer.ErrMalformedReply), ShouldBeTrue)
	})

	Convey("Given a server slower than the timeout", t, func() {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c := smarterer.New(
			smarterer.WithBaseURLs(srv.URL+"/api/", ""),
			smarterer.WithTimeout(50*time.Millisecond),
		)
		_, err := c.Badges(context.Background(), "tok")

		var apiErr *smarterer.RemoteAPIError
		So(errors.As(err, &apiErr), ShouldBeTrue)
		So(apiErr.StatusCode, ShouldEqual, 0)
		So(apiErr.Retryable(), ShouldBeTrue)
	})
}

func TestUserBadges(t *testing.T) {
	Convey("UserBadges addresses the user's public badge resource", t, func() {
		var got *http.Request
		_, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			got = r
			_, _ = io.WriteString(w, `{"badges":[]}`)
		})
		_, err := c.UserBadges(context.Background(), "alice", "t1")
		So(err, ShouldBeNil)
		So(got.URL.Path, ShouldEqual, "/api/badges/alice")
		So(got.URL.Query().Has("access_token"), ShouldBeFalse)
		So(got.URL.Query().Get("tests"), ShouldEqual, "t1")
	})
}

func TestOAuth(t *testing.T) {
	Convey("Given an OAuth endpoint", t, func() {
		var got *http.Request
		srv, c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			got = r
			if r.URL.Query().Get("code") == "bad" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if r.URL.Query().Get("code") == "empty" {
				_, _ = io.WriteString(w, `{}`)
				return
			}
			_, _ = io.WriteString(w, `{"access_token":"tok_new"}`)
		})

		Convey("AuthorizeURL carries the client id", func() {
			u, err := url.Parse(c.AuthorizeURL())
			So(err, ShouldBeNil)
			So(u.Scheme+"://"+u.Host, ShouldEqual, srv.URL)
			So(u.Path, ShouldEqual, "/oauth/authorize")
			So(u.Query().Get("client_id"), ShouldEqual, "app-id")
		})

		Convey("ExchangeCode returns the issued token", func() {
			tok, err := c.ExchangeCode(context.Background(), "abc")
			So(err, ShouldBeNil)
			So(tok, ShouldEqual, "tok_new")
			So(got.URL.Path, ShouldEqual, "/oauth/access_token")
			q := got.URL.Query()
			So(q.Get("client_id"), ShouldEqual, "app-id")
			So(q.Get("client_secret"), ShouldEqual, "app-secret")
			So(q.Get("code"), ShouldEqual, "abc")
			So(q.Get("grant_type"), ShouldEqual, "authorization_code")
		})

		Convey("A rejected code is a remote error", func() {
			_, err := c.ExchangeCode(context.Background(), "bad")
			So(errors.Is(err, smarterer.ErrRemoteAPI), ShouldBeTrue)
		})

		Convey("A reply without a token is malformed", func() {
			_, err := c.ExchangeCode(context.Background(), "empty")
			So(errors.Is(err, smarterer.ErrMalformedReply), ShouldBeTrue)
		})
	})
}
