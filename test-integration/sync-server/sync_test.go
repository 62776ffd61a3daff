package integration

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/decksnap/decksnap-sync/internal/config"
	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/room"
	"github.com/decksnap/decksnap-sync/internal/store/memory"
	"github.com/decksnap/decksnap-sync/test-integration/sync-server/helpers"
)

const internalToken = "integration-hook-token"

var _ = Describe("Cross-instance collaboration", Ordered, func() {
	var (
		st         *memory.Store
		serverA    *helpers.ServerTestHelper
		serverB    *helpers.ServerTestHelper
		ada, grace model.User
		doc        *model.Document
	)

	BeforeAll(func() {
		tokenFile := filepath.Join(GinkgoT().TempDir(), "internal-token")
		Expect(os.WriteFile(tokenFile, []byte(internalToken), 0o600)).To(Succeed())

		cfg := config.Default()
		cfg.Auth.InternalTokenFile = tokenFile
		cfg.Fabric.ChannelPrefix = "it:"

		st = memory.New()
		factory := &helpers.SharedFactory{Store: st, RedisAddr: redis.Addr()}
		serverA = helpers.StartServer(ctx, cfg, factory)
		serverB = helpers.StartServer(ctx, cfg, factory)
	})

	AfterAll(func() {
		Expect(serverA.StopServer()).To(Succeed())
		Expect(serverB.StopServer()).To(Succeed())
	})

	BeforeEach(func() {
		ada = helpers.SeedUser(ctx, st, "Ada")
		grace = helpers.SeedUser(ctx, st, "Grace")
		doc = helpers.SeedPresentation(ctx, st, ada, 3)
	})

	It("delivers the initial state on every instance", func() {
		a := helpers.Connect(serverA, doc.Presentation.ID, ada.ID)
		defer a.Close()
		b := helpers.Connect(serverB, doc.Presentation.ID, grace.ID)
		defer b.Close()

		for _, c := range []*helpers.ClientHelper{a, b} {
			state := c.WaitFor("sync:state")
			Expect(state["slides"]).To(HaveLen(3))
			Expect(state["presentation"]).To(HaveKeyWithValue("topic", "Roadmap"))
		}
	})

	It("announces joins across instances", func() {
		a := helpers.Connect(serverA, doc.Presentation.ID, ada.ID)
		defer a.Close()
		a.WaitFor("sync:state")

		b := helpers.Connect(serverB, doc.Presentation.ID, grace.ID)
		b.WaitFor("sync:state")

		joined := a.WaitFor("user:joined")
		Expect(joined["user"]).To(HaveKeyWithValue("user_id", grace.ID.String()))

		b.Close()
		left := a.WaitFor("user:left")
		Expect(left).To(HaveKeyWithValue("user_id", grace.ID.String()))
	})

	It("applies an edit once and fans it out to the other instance", func() {
		a := helpers.Connect(serverA, doc.Presentation.ID, ada.ID)
		defer a.Close()
		b := helpers.Connect(serverB, doc.Presentation.ID, grace.ID)
		defer b.Close()
		a.WaitFor("sync:state")
		b.WaitFor("sync:state")

		slideID := doc.Slides[0].ID.String()
		a.Send(map[string]any{
			"type":         "slide:update",
			"message_id":   "edit-1",
			"slide_id":     slideID,
			"changes":      map[string]any{"title": "Vision"},
			"base_version": model.InitialVersion,
		})

		ack := a.WaitFor("sync:ack")
		Expect(ack).To(HaveKeyWithValue("original_message_id", "edit-1"))
		Expect(ack).To(HaveKeyWithValue("new_version", BeEquivalentTo(model.InitialVersion+1)))

		update := b.WaitFor("slide:update")
		Expect(update).To(HaveKeyWithValue("slide_id", slideID))
		Expect(update).To(HaveKeyWithValue("updated_by", ada.ID.String()))
		Expect(update["changes"]).To(HaveKeyWithValue("title", "Vision"))

		slide, err := st.GetSlide(ctx, doc.Presentation.ID, doc.Slides[0].ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(slide.Version).To(Equal(model.InitialVersion + 1))
	})

	It("reports a conflict to the stale writer on the other instance", func() {
		a := helpers.Connect(serverA, doc.Presentation.ID, ada.ID)
		defer a.Close()
		b := helpers.Connect(serverB, doc.Presentation.ID, grace.ID)
		defer b.Close()
		a.WaitFor("sync:state")
		b.WaitFor("sync:state")

		slideID := doc.Slides[1].ID.String()
		edit := func(c *helpers.ClientHelper, id, title string) {
			c.Send(map[string]any{
				"type":         "slide:update",
				"message_id":   id,
				"slide_id":     slideID,
				"changes":      map[string]any{"title": title},
				"base_version": model.InitialVersion,
			})
		}

		edit(a, "first", "Ada's title")
		a.WaitFor("sync:ack")
		b.WaitFor("slide:update")

		edit(b, "second", "Grace's title")
		conflict := b.WaitFor("sync:conflict")
		Expect(conflict).To(HaveKeyWithValue("original_message_id", "second"))
		Expect(conflict).To(HaveKeyWithValue("server_version", BeEquivalentTo(model.InitialVersion+1)))
		Expect(conflict["server_state"]).To(HaveKeyWithValue("title", "Ada's title"))
	})

	It("relays presence without persisting it", func() {
		a := helpers.Connect(serverA, doc.Presentation.ID, ada.ID)
		defer a.Close()
		b := helpers.Connect(serverB, doc.Presentation.ID, grace.ID)
		defer b.Close()
		a.WaitFor("sync:state")
		b.WaitFor("sync:state")

		b.Send(map[string]any{"type": "cursor:move", "message_id": "c-1", "x": 0.25, "y": 0.75})
		cursor := a.WaitFor("cursor:move")
		Expect(cursor).To(HaveKeyWithValue("user_id", grace.ID.String()))
		Expect(cursor).To(HaveKeyWithValue("x", 0.25))

		b.ExpectSilence("sync:ack", 300*time.Millisecond)
	})

	It("broadcasts image events posted to any instance", func() {
		a := helpers.Connect(serverA, doc.Presentation.ID, ada.ID)
		defer a.Close()
		a.WaitFor("sync:state")

		slideID := doc.Slides[2].ID.String()
		resp, err := serverB.PostImageEvent(doc.Presentation.ID.String(), internalToken,
			`{"type":"image:completed","slide_id":"`+slideID+`","image_url":"https://cdn.example.com/x.png"}`)
		Expect(err).NotTo(HaveOccurred())
		_ = resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		completed := a.WaitFor("image:completed")
		Expect(completed).To(HaveKeyWithValue("slide_id", slideID))
		Expect(completed).To(HaveKeyWithValue("image_url", "https://cdn.example.com/x.png"))
	})

	It("rejects image events without the internal token", func() {
		resp, err := serverA.PostImageEvent(doc.Presentation.ID.String(), "guess",
			`{"type":"image:failed","slide_id":"`+doc.Slides[0].ID.String()+`","error":"boom"}`)
		Expect(err).NotTo(HaveOccurred())
		_ = resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("supersedes a second session of the same user on one instance", func() {
		first := helpers.Connect(serverA, doc.Presentation.ID, ada.ID)
		first.WaitFor("sync:state")

		second := helpers.Connect(serverA, doc.Presentation.ID, ada.ID)
		defer second.Close()
		second.WaitFor("sync:state")

		Expect(first.CloseCode()).To(Equal(room.CloseSuperseded))
		Eventually(serverA.ConnectionCount).Should(Equal(1))
	})
})
