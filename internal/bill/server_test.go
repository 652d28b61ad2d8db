package bill

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"golang.org/x/text/language"

	"github.com/zombor/medbill-tracker/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		store       *Store
		workflow    *Workflow
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &mockExtractor{data: &scanning.BillData{DoctorName: "Dr. Müller", Date: "2024-01-15", Amount: "30.00"}}
	})

	JustBeforeEach(func() {
		timeSrc := &mockTimeSource{now: fixedNow}
		store = NewStoreWithDeps(db, storage, &mockIDGenerator{prefix: "bill"}, timeSrc)
		store.Load()
		editor := NewEditorWithDeps(timeSrc, mockTranslator{})
		workflow = NewWorkflowWithDeps(store, editor, extractor, storage, mockTranslator{}, &mockIDGenerator{prefix: "img"}, timeSrc)
		aggregator := NewAggregator(language.German, "Unbekannter Arzt")
		server := NewServerWithMux(store, workflow, aggregator, mockTranslator{}, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		// Tests walk the workflow across several requests
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	do := func(method, path string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	seed := func(bills ...Bill) {
		data, err := json.Marshal(bills)
		Expect(err).NotTo(HaveOccurred())
		db.data = data
	}

	Describe("GET /api/bills", func() {
		BeforeEach(func() {
			seed(
				Bill{ID: "a", DoctorName: "Dr. Müller", Date: "2024-01-15", Amount: amount("30")},
				Bill{ID: "b", DoctorName: "Dr. Weber", Date: "2024-02-01", Amount: amount("10")},
			)
		})

		It("should return all bills as JSON", func() {
			resp := do("GET", "/api/bills", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var bills []Bill
			decode(resp, &bills)
			Expect(bills).To(HaveLen(2))
			Expect(bills[0].ID).To(Equal("a"))
		})

		It("should set CORS headers", func() {
			resp := do("GET", "/api/bills", nil)
			resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("GET /api/bills/summary", func() {
		BeforeEach(func() {
			seed(
				Bill{ID: "a", DoctorName: "Dr. Müller", Date: "2024-01-15", Amount: amount("30.00")},
				Bill{ID: "b", DoctorName: "Dr. Müller", Date: "2024-03-01", Amount: amount("25.50")},
			)
		})

		It("should return the grouped summary", func() {
			resp := do("GET", "/api/bills/summary", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var summary Summary
			decode(resp, &summary)
			Expect(summary.Groups).To(HaveLen(1))
			Expect(summary.Groups[0].TotalAmount.StringFixed(2)).To(Equal("55.50"))
			Expect(summary.Groups[0].Bills[0].ID).To(Equal("b"))
			Expect(summary.Count).To(Equal(2))
		})
	})

	Describe("GET /api/bills/{id}", func() {
		BeforeEach(func() {
			seed(Bill{ID: "a", DoctorName: "Dr. Müller"})
		})

		It("should return the bill", func() {
			resp := do("GET", "/api/bills/a", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var b Bill
			decode(resp, &b)
			Expect(b.DoctorName).To(Equal("Dr. Müller"))
		})

		It("should return 404 for an unknown id", func() {
			resp := do("GET", "/api/bills/missing", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/bills/{id}/file", func() {
		BeforeEach(func() {
			storage.files["scan.png"] = []byte("png bytes")
			seed(Bill{ID: "a", DoctorName: "Dr. Müller", ImageFile: "scan.png"}, Bill{ID: "b", DoctorName: "Dr. Weber"})
		})

		It("should serve the image", func() {
			resp := do("GET", "/api/bills/a/file", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("png bytes")))
		})

		It("should return 404 when the bill has no image", func() {
			resp := do("GET", "/api/bills/b/file", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/bills/{id}/forwarded", func() {
		BeforeEach(func() {
			seed(Bill{ID: "a", DoctorName: "Dr. Müller"})
		})

		It("should toggle the forwarded flag", func() {
			resp := do("POST", "/api/bills/a/forwarded", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var b Bill
			decode(resp, &b)
			Expect(b.ForwardedToDkv).To(BeTrue())
			Expect(b.ForwardedDate).To(Equal("2024-05-20"))
		})

		It("should return 404 for an unknown id", func() {
			resp := do("POST", "/api/bills/missing/forwarded", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("DELETE /api/bills/{id}", func() {
		BeforeEach(func() {
			seed(Bill{ID: "a", DoctorName: "Dr. Müller"})
		})

		When("the request is not confirmed", func() {
			It("should return 428 and keep the bill", func() {
				resp := do("DELETE", "/api/bills/a", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusPreconditionRequired))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(Equal("DeleteConfirmationRequired"))
				Expect(store.List()).To(HaveLen(1))
			})
		})

		When("the request is confirmed", func() {
			It("should delete the bill", func() {
				resp := do("DELETE", "/api/bills/a?confirm=true", nil)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(store.List()).To(BeEmpty())
			})
		})

		When("the id is unknown", func() {
			It("should return 404", func() {
				resp := do("DELETE", "/api/bills/missing?confirm=true", nil)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("GET /api/bills/calendar.ics", func() {
		BeforeEach(func() {
			seed(Bill{ID: "a", DoctorName: "Dr. Müller", DueDate: "2024-06-01", Amount: amount("30")})
		})

		It("should serve an iCalendar feed", func() {
			resp := do("GET", "/api/bills/calendar.ics", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/calendar"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("BEGIN:VEVENT"))
		})
	})

	Describe("OPTIONS preflight", func() {
		It("should answer with no content", func() {
			resp := do("OPTIONS", "/api/bills", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})
	})

	Describe("capture workflow", func() {
		var view View

		imageJSON := func() io.Reader {
			payload := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
			return strings.NewReader(`{"image":"` + payload + `"}`)
		}

		It("should start idle", func() {
			decode(do("GET", "/api/workflow", nil), &view)
			Expect(view.State).To(Equal(StateIdle))
		})

		It("should scan, review and commit a bill", func() {
			resp := do("POST", "/api/workflow/capture", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &view)
			Expect(view.State).To(Equal(StateCapturing))

			resp = do("POST", "/api/workflow/capture/image", imageJSON())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &view)
			Expect(view.State).To(Equal(StateReviewing))
			Expect(view.Draft.DoctorName).To(Equal("Dr. Müller"))
			Expect(extractor.lastContentType).To(Equal("image/jpeg"))

			resp = do("PUT", "/api/workflow/draft", strings.NewReader(`{"doctorName":"Dr. Müller","date":"2024-01-15","amount":31.5}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &view)
			Expect(view.Draft.Amount).To(Equal("31.5"))

			resp = do("POST", "/api/workflow/commit", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var b Bill
			decode(resp, &b)
			Expect(b.ID).To(Equal("bill-1"))
			Expect(b.Amount.StringFixed(2)).To(Equal("31.50"))
			Expect(b.ImageFile).To(Equal("img-1.jpg"))
			Expect(store.List()).To(HaveLen(1))
		})

		It("should accept a multipart upload in one request", func() {
			var buf bytes.Buffer
			writer := multipart.NewWriter(&buf)
			part, err := writer.CreateFormFile("file", "bill.png")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())

			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/workflow/scan", &buf)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &view)
			Expect(view.State).To(Equal(StateReviewing))
			Expect(extractor.lastContentType).To(Equal("image/png"))
		})

		It("should fall back to manual entry when extraction fails", func() {
			extractor.err = errors.New("quota exceeded")
			resp := do("POST", "/api/workflow/scan", imageJSON())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &view)
			Expect(view.State).To(Equal(StateReviewing))
			Expect(view.Notice.Code).To(Equal(NoticeExtractionFailed))
			Expect(view.Draft.DoctorName).To(BeEmpty())
		})

		It("should return 422 when the doctor name is missing", func() {
			resp := do("POST", "/api/workflow/manual", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do("POST", "/api/workflow/commit", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			var body map[string]string
			decode(resp, &body)
			Expect(body["field"]).To(Equal("doctorName"))

			decode(do("GET", "/api/workflow", nil), &view)
			Expect(view.State).To(Equal(StateReviewing))
		})

		It("should stamp the forwarded date", func() {
			resp := do("POST", "/api/workflow/manual", nil)
			resp.Body.Close()

			resp = do("POST", "/api/workflow/draft/forwarded", strings.NewReader(`{"forwarded":true}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &view)
			Expect(view.Draft.ForwardedDate).To(Equal("2024-05-20"))
		})

		It("should return 409 for a transition that is not allowed", func() {
			resp := do("POST", "/api/workflow/commit", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should cancel a draft", func() {
			resp := do("POST", "/api/workflow/manual", nil)
			resp.Body.Close()

			resp = do("POST", "/api/workflow/cancel", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &view)
			Expect(view.State).To(Equal(StateIdle))
		})

		It("should reject an invalid image payload", func() {
			resp := do("POST", "/api/workflow/capture", nil)
			resp.Body.Close()

			resp = do("POST", "/api/workflow/capture/image", strings.NewReader(`{"image":"%%%"}`))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			decode(do("GET", "/api/workflow", nil), &view)
			Expect(view.State).To(Equal(StateCapturing))
		})

		It("should close the capture when the upload has no image", func() {
			resp := do("POST", "/api/workflow/capture", nil)
			resp.Body.Close()

			resp = do("POST", "/api/workflow/capture/image", strings.NewReader(`{"image":""}`))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			decode(do("GET", "/api/workflow", nil), &view)
			Expect(view.State).To(Equal(StateIdle))
			Expect(extractor.calls).To(Equal(0))
		})
	})
})
