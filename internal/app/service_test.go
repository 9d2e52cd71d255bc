package service_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/okian/badgeboard/internal/adapters/repository"
	"github.com/okian/badgeboard/internal/adapters/smarterer"
	service "github.com/okian/badgeboard/internal/app"
	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/internal/domain/scoring"
	"github.com/okian/badgeboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		panic(err)
	}
}

func TestSyncUser(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service over a memory store", t, func() {
		store := repository.NewMemoryStore()
		remote := newFakeRemote()
		svc := service.New(store, remote, service.WithTestIDs("t1"))

		Convey("A user without a credential is not authorized and the remote is not called", func() {
			_, err := svc.SyncUser(ctx, "bob")
			So(errors.Is(err, service.ErrNotAuthorized), ShouldBeTrue)
			So(service.ErrorKind(err), ShouldEqual, "not_authorized")
			So(remote.calls.Load(), ShouldEqual, int64(0))
		})

		Convey("An empty username is invalid", func() {
			_, err := svc.SyncUser(ctx, "")
			So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("Given alice has a credential", func() {
			So(store.UpsertCredential(ctx, "alice", "tok_a"), ShouldBeNil)

			Convey("An empty badge list is NoScore and writes nothing", func() {
				remote.badges["tok_a"] = model.BadgesResponse{Badges: []model.BadgeEntry{}}
				res, err := svc.SyncUser(ctx, "alice")
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, service.OutcomeNoScore)
				So(res.Records, ShouldBeEmpty)

				list, err := store.ListScores(ctx, "t1")
				So(err, ShouldBeNil)
				So(list, ShouldBeEmpty)
			})

			Convey("A badge is upserted as a fixed-point score", func() {
				remote.badges["tok_a"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("t1", 72.5, "img.png")}}
				res, err := svc.SyncUser(ctx, "alice")
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, service.OutcomeSynced)
				So(res.Records, ShouldHaveLength, 1)
				So(res.Records[0].Score, ShouldEqual, int64(72500))
				So(remote.lastTests, ShouldResemble, []string{"t1"})

				Convey("Syncing again with unchanged data leaves one equal record", func() {
					_, err := svc.SyncUser(ctx, "alice")
					So(err, ShouldBeNil)
					list, err := store.ListScores(ctx, "t1")
					So(err, ShouldBeNil)
					So(list, ShouldHaveLength, 1)
					So(scoring.Decode(list[0].Score), ShouldEqual, 72.5)
					So(list[0].BadgeImage, ShouldEqual, "img.png")
				})
			})

			Convey("The first badge wins when several match the test", func() {
				remote.badges["tok_a"] = model.BadgesResponse{Badges: []model.BadgeEntry{
					badge("t1", 40, "first.png"),
					badge("t1", 90, "second.png"),
				}}
				_, err := svc.SyncUser(ctx, "alice")
				So(err, ShouldBeNil)
				rec, err := svc.Score(ctx, "alice", "")
				So(err, ShouldBeNil)
				So(rec.Score, ShouldEqual, int64(40000))
				So(rec.BadgeImage, ShouldEqual, "first.png")
			})

			Convey("A badge for another test is ignored", func() {
				remote.badges["tok_a"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("other", 50, "")}}
				res, err := svc.SyncUser(ctx, "alice")
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, service.OutcomeNoScore)
			})

			Convey("A badge without quiz identifiers goes to the single test", func() {
				remote.badges["tok_a"] = model.BadgesResponse{Badges: []model.BadgeEntry{{Badge: model.Badge{RawScore: 12.3456}}}}
				res, err := svc.SyncUser(ctx, "alice")
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, service.OutcomeSynced)
				So(res.Records[0].Score, ShouldEqual, int64(12346))
			})

			Convey("A remote failure is surfaced as a remote error", func() {
				remote.errs["tok_a"] = []error{serverError()}
				_, err := svc.SyncUser(ctx, "alice")
				So(errors.Is(err, smarterer.ErrRemoteAPI), ShouldBeTrue)
				So(service.ErrorKind(err), ShouldEqual, "remote_error")
				So(remote.calls.Load(), ShouldEqual, int64(1))
			})
		})
	})

	Convey("Given a service configured for two tests", t, func() {
		store := repository.NewMemoryStore()
		remote := newFakeRemote()
		svc := service.New(store, remote, service.WithTestIDs("t1", "t2", "t1"))
		So(store.UpsertCredential(ctx, "alice", "tok"), ShouldBeNil)

		remote.badges["tok"] = model.BadgesResponse{Badges: []model.BadgeEntry{
			badge("t2", 20, ""),
			{Quiz: model.Quiz{ID: "t1"}, Badge: model.Badge{RawScore: 10}},
			badge("t3", 30, ""),
		}}

		res, err := svc.SyncUser(ctx, "alice")
		So(err, ShouldBeNil)
		So(svc.TestIDs(), ShouldResemble, []string{"t1", "t2"})
		So(remote.lastTests, ShouldResemble, []string{"t1", "t2"})
		So(res.Records, ShouldHaveLength, 2)
		So(res.Records[0].TestID, ShouldEqual, "t1")
		So(res.Records[0].Score, ShouldEqual, int64(10000))
		So(res.Records[1].TestID, ShouldEqual, "t2")
		So(res.Records[1].Score, ShouldEqual, int64(20000))
	})
}

func TestSyncUserRetries(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with two retries", t, func() {
		store := repository.NewMemoryStore()
		remote := newFakeRemote()
		svc := service.New(store, remote, service.WithTestIDs("t1"), service.WithRetries(2, time.Millisecond))
		So(store.UpsertCredential(ctx, "alice", "tok"), ShouldBeNil)
		remote.badges["tok"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("t1", 1, "")}}

		Convey("Transient server errors are retried until success", func() {
			remote.errs["tok"] = []error{serverError(), serverError()}
			res, err := svc.SyncUser(ctx, "alice")
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, service.OutcomeSynced)
			So(remote.calls.Load(), ShouldEqual, int64(3))
		})

		Convey("Exhausted retries return the last remote error", func() {
			remote.errs["tok"] = []error{serverError(), serverError(), serverError()}
			_, err := svc.SyncUser(ctx, "alice")
			var apiErr *smarterer.RemoteAPIError
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.StatusCode, ShouldEqual, 500)
			So(remote.calls.Load(), ShouldEqual, int64(3))
		})

		Convey("Client errors are not retried", func() {
			remote.errs["tok"] = []error{&smarterer.RemoteAPIError{Op: smarterer.OpBadges, StatusCode: 401}}
			_, err := svc.SyncUser(ctx, "alice")
			So(errors.Is(err, smarterer.ErrRemoteAPI), ShouldBeTrue)
			So(remote.calls.Load(), ShouldEqual, int64(1))
		})
	})
}

func TestSyncUserCoalescing(t *testing.T) {
	Convey("Concurrent syncs of the same user share one remote call", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		remote := newFakeRemote()
		remote.block = make(chan struct{})
		remote.entered = make(chan struct{}, 4)
		svc := service.New(store, remote, service.WithTestIDs("t1"))
		So(store.UpsertCredential(ctx, "alice", "tok"), ShouldBeNil)
		remote.badges["tok"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("t1", 5, "")}}

		var wg sync.WaitGroup
		results := make([]error, 2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[0] = svc.SyncUser(ctx, "alice")
		}()
		<-remote.entered

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[1] = svc.SyncUser(ctx, "alice")
		}()
		time.Sleep(50 * time.Millisecond)
		close(remote.block)
		wg.Wait()

		So(results[0], ShouldBeNil)
		So(results[1], ShouldBeNil)
		So(remote.calls.Load(), ShouldEqual, int64(1))
	})
}

func TestSyncUserCallerCancellation(t *testing.T) {
	Convey("A caller that gives up does not fail the others waiting on the same sync", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		remote := newFakeRemote()
		remote.block = make(chan struct{})
		remote.entered = make(chan struct{}, 4)
		svc := service.New(store, remote, service.WithTestIDs("t1"))
		So(store.UpsertCredential(ctx, "alice", "tok"), ShouldBeNil)
		remote.badges["tok"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("t1", 7, "")}}

		first, cancel := context.WithCancel(ctx)
		defer cancel()

		firstDone := make(chan error, 1)
		go func() {
			_, err := svc.SyncUser(first, "alice")
			firstDone <- err
		}()
		<-remote.entered

		secondDone := make(chan error, 1)
		var second service.SyncResult
		go func() {
			var err error
			second, err = svc.SyncUser(ctx, "alice")
			secondDone <- err
		}()
		time.Sleep(50 * time.Millisecond)

		cancel()
		So(errors.Is(<-firstDone, context.Canceled), ShouldBeTrue)

		close(remote.block)
		So(<-secondDone, ShouldBeNil)
		So(second.Outcome, ShouldEqual, service.OutcomeSynced)
		So(remote.calls.Load(), ShouldEqual, int64(1))

		rec, err := store.GetScore(ctx, "alice", "t1")
		So(err, ShouldBeNil)
		So(rec.Score, ShouldEqual, int64(7000))
	})
}

func TestSyncAllUsers(t *testing.T) {
	ctx := context.Background()

	Convey("Given alice is valid and bob's remote returns 500", t, func() {
		store := repository.NewMemoryStore()
		remote := newFakeRemote()
		svc := service.New(store, remote, service.WithTestIDs("t1"), service.WithConcurrency(2))

		So(store.UpsertCredential(ctx, "alice", "tok_a"), ShouldBeNil)
		So(store.UpsertCredential(ctx, "bob", "tok_b"), ShouldBeNil)
		So(store.UpsertCredential(ctx, "carol", "tok_c"), ShouldBeNil)
		remote.badges["tok_a"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("t1", 90, "a.png")}}
		remote.errs["tok_b"] = []error{serverError()}
		remote.badges["tok_c"] = model.BadgesResponse{Badges: []model.BadgeEntry{}}

		report, err := svc.SyncAllUsers(ctx)

		Convey("The batch completes and reports bob's failure", func() {
			So(err, ShouldBeNil)
			So(report.RunID, ShouldNotBeEmpty)
			So(report.Total(), ShouldEqual, 3)
			So(report.Synced, ShouldHaveLength, 1)
			So(report.Synced[0].Username, ShouldEqual, "alice")
			So(report.NoScore, ShouldResemble, []string{"carol"})
			So(report.Failures, ShouldHaveLength, 1)
			So(report.Failures[0].Username, ShouldEqual, "bob")
			So(errors.Is(report.Failures[0].Err, smarterer.ErrRemoteAPI), ShouldBeTrue)
		})

		Convey("Alice's score is stored", func() {
			rec, err := store.GetScore(ctx, "alice", "t1")
			So(err, ShouldBeNil)
			So(rec.Score, ShouldEqual, int64(90000))
		})

		Convey("Stats reflect the run", func() {
			stats := svc.GetStats(ctx)
			So(stats["credentials"], ShouldEqual, 3)
			So(stats["synced"], ShouldEqual, int64(1))
			So(stats["failed"], ShouldEqual, int64(1))
			So(stats["noScore"], ShouldEqual, int64(1))
			So(stats["scores"], ShouldResemble, map[string]int{"t1": 1})
			So(stats, ShouldContainKey, "lastBatch")
		})
	})

	Convey("Given a storage failure for one user", t, func() {
		base := repository.NewMemoryStore()
		store := &flakyStore{Store: base, failUpsert: map[string]bool{"bob": true}}
		remote := newFakeRemote()
		svc := service.New(store, remote, service.WithTestIDs("t1"))

		So(base.UpsertCredential(ctx, "alice", "tok_a"), ShouldBeNil)
		So(base.UpsertCredential(ctx, "bob", "tok_b"), ShouldBeNil)
		remote.badges["tok_a"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("t1", 1, "")}}
		remote.badges["tok_b"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("t1", 2, "")}}

		report, err := svc.SyncAllUsers(ctx)
		So(err, ShouldBeNil)
		So(report.Synced, ShouldHaveLength, 1)
		So(report.Failures, ShouldHaveLength, 1)
		So(errors.Is(report.Failures[0].Err, repository.ErrStorage), ShouldBeTrue)
		So(service.ErrorKind(report.Failures[0].Err), ShouldEqual, "storage_error")
	})

	Convey("When credentials cannot be listed the batch errors", t, func() {
		store := &flakyStore{Store: repository.NewMemoryStore(), failList: true}
		svc := service.New(store, newFakeRemote())
		_, err := svc.SyncAllUsers(ctx)
		So(errors.Is(err, repository.ErrStorage), ShouldBeTrue)
	})

	Convey("An empty store produces an empty report", t, func() {
		svc := service.New(repository.NewMemoryStore(), newFakeRemote())
		report, err := svc.SyncAllUsers(ctx)
		So(err, ShouldBeNil)
		So(report.Total(), ShouldEqual, 0)
	})
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()

	Convey("Given scores alice 90, bob 95, carol 80", t, func() {
		store := repository.NewMemoryStore()
		svc := service.New(store, newFakeRemote(), service.WithTestIDs("t1", "t2"))
		for name, v := range map[string]float64{"alice": 90, "bob": 95, "carol": 80} {
			_, err := store.UpsertScore(ctx, name, "t1", v, "")
			So(err, ShouldBeNil)
		}
		_, err := store.UpsertScore(ctx, "dave", "t2", 99, "")
		So(err, ShouldBeNil)

		entries, err := svc.Leaderboard(ctx, "")
		So(err, ShouldBeNil)
		So(entries, ShouldHaveLength, 3)
		So(entries[0].Username, ShouldEqual, "bob")
		So(entries[1].Username, ShouldEqual, "alice")
		So(entries[2].Username, ShouldEqual, "carol")
		So(entries[0].RawScore, ShouldEqual, 95.0)
		So(entries[0].DisplayScore, ShouldEqual, int64(95))
		So(entries[0].Rank, ShouldEqual, 1)

		other, err := svc.Leaderboard(ctx, "t2")
		So(err, ShouldBeNil)
		So(other, ShouldHaveLength, 1)
		So(other[0].Username, ShouldEqual, "dave")
	})
}

func TestMirroring(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with a badge mirror", t, func() {
		store := repository.NewMemoryStore()
		remote := newFakeRemote()
		So(store.UpsertCredential(ctx, "alice", "tok"), ShouldBeNil)
		remote.badges["tok"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("t1", 1, "https://remote.example/a.png")}}

		Convey("The mirrored URL is stored", func() {
			svc := service.New(store, remote, service.WithTestIDs("t1"), service.WithMirror(fakeMirror{}))
			res, err := svc.SyncUser(ctx, "alice")
			So(err, ShouldBeNil)
			So(res.Records[0].BadgeImage, ShouldEqual, "https://cdn.example/badges/t1/alice.png")
		})

		Convey("A mirror failure keeps the remote URL", func() {
			svc := service.New(store, remote, service.WithTestIDs("t1"), service.WithMirror(fakeMirror{err: errors.New("offline")}))
			res, err := svc.SyncUser(ctx, "alice")
			So(err, ShouldBeNil)
			So(res.Records[0].BadgeImage, ShouldEqual, "https://remote.example/a.png")
		})
	})
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()

	Convey("Given a remote that issues tok_new for code abc", t, func() {
		store := repository.NewMemoryStore()
		remote := newFakeRemote()
		remote.tokens["abc"] = "tok_new"
		remote.badges["tok_new"] = model.BadgesResponse{Badges: []model.BadgeEntry{badge("t1", 88, "")}}
		svc := service.New(store, remote, service.WithTestIDs("t1"))

		So(svc.AuthorizeURL(), ShouldContainSubstring, "client_id=app")

		Convey("Completing authorization stores the token and syncs", func() {
			res, err := svc.CompleteAuthorization(ctx, "alice", "abc")
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, service.OutcomeSynced)

			cred, err := svc.GetCredential(ctx, "alice")
			So(err, ShouldBeNil)
			So(cred.AccessToken, ShouldEqual, "tok_new")

			u, err := svc.GetProfile(ctx, "alice")
			So(err, ShouldBeNil)
			So(u.Username, ShouldEqual, "alice")
		})

		Convey("A rejected code stores nothing", func() {
			_, err := svc.CompleteAuthorization(ctx, "alice", "nope")
			So(errors.Is(err, smarterer.ErrRemoteAPI), ShouldBeTrue)
			_, err = svc.GetCredential(ctx, "alice")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Missing parameters are invalid", func() {
			_, err := svc.CompleteAuthorization(ctx, "", "abc")
			So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("Profiles can be updated", func() {
			u, err := svc.UpdateProfile(ctx, model.User{Username: "alice", FirstName: "Alice"})
			So(err, ShouldBeNil)
			So(u.DisplayName(), ShouldEqual, "Alice")
			_, err = svc.UpdateProfile(ctx, model.User{})
			So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
		})
	})
}
