package versioning_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/llmeval/qa-registry/pkg/versioning"
)

// call issues a request against the suite server as user with the given groups.
func call(method, path, user, groups string, body any) (*http.Response, []byte) {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequest(method, testServer.URL+path, &buf)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Remote-User", user)
	}
	if groups != "" {
		req.Header.Set("X-Remote-Group", groups)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, out.Bytes()
}

var _ = Describe("Question versioning over HTTP", func() {
	Context("an editor curating one question", Ordered, func() {
		var (
			question versioning.QuestionResponse
			first    versioning.CreateVersionResponse
		)

		It("rejects writes from users outside the editor groups", func() {
			resp, body := call(http.MethodPost, "/api/v1/questions", "mallory", "", versioning.CreateQuestionRequest{
				Question: "q", QuestionType: "subjective",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			Expect(string(body)).To(ContainSubstring("questions/create"))
		})

		It("registers the question without any versions", func() {
			resp, body := call(http.MethodPost, "/api/v1/questions", "erin", "qa-editors", versioning.CreateQuestionRequest{
				Question: "Who wrote Hamlet?", QuestionType: "simple_fact", Difficulty: "easy",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(json.Unmarshal(body, &question)).To(Succeed())
			Expect(question.CurrentVersion).To(Equal(0))
			Expect(question.CreatedBy).To(Equal("erin"))
		})

		It("numbers versions contiguously", func() {
			for i, text := range []string{"Who wrote Hamlet?", "Which playwright wrote Hamlet?"} {
				resp, body := call(http.MethodPost, fmt.Sprintf("/api/v1/questions/%d/versions", question.ID), "erin", "qa-editors",
					versioning.CreateVersionRequest{QuestionBody: text, ChangeReason: "wording"})
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var created versioning.CreateVersionResponse
				Expect(json.Unmarshal(body, &created)).To(Succeed())
				Expect(created.VersionInfo.VersionNumber).To(Equal(i + 1))
				if i == 0 {
					first = created
				}
			}
		})

		It("lets anyone read the history", func() {
			resp, body := call(http.MethodGet, fmt.Sprintf("/api/v1/questions/%d/versions", question.ID), "", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var page versioning.PagedResponse[versioning.VersionResponse]
			Expect(json.Unmarshal(body, &page)).To(Succeed())
			Expect(page.Total).To(BeEquivalentTo(2))
			Expect(page.Content[0].VersionName).To(Equal("v2"))
			Expect(page.Content[1].VersionName).To(Equal("v1"))
		})

		It("rolls back by appending a copy of the target", func() {
			resp, body := call(http.MethodPost,
				fmt.Sprintf("/api/v1/questions/%d/versions/%d/rollback", question.ID, first.VersionID),
				"erin", "qa-editors", versioning.RollbackRequest{ChangeReason: "reviewer preferred v1"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var rolled versioning.CreateVersionResponse
			Expect(json.Unmarshal(body, &rolled)).To(Succeed())
			Expect(rolled.VersionInfo.VersionNumber).To(Equal(3))
			Expect(rolled.VersionInfo.QuestionBody).To(Equal(first.VersionInfo.QuestionBody))
			Expect(rolled.VersionInfo.ChangeReason).To(Equal("rollback to v1: reviewer preferred v1"))
		})

		It("reserves version deletion for admins", func() {
			path := fmt.Sprintf("/api/v1/versions/%d", first.VersionID)
			resp, _ := call(http.MethodDelete, path, "erin", "qa-editors", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

			resp, _ = call(http.MethodDelete, path, "root", "qa-admins", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, _ = call(http.MethodGet, path, "", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})

var _ = Describe("Dataset snapshots over HTTP", func() {
	Context("publishing a release", Ordered, func() {
		var (
			questionIDs []uint
			dataset     versioning.DatasetResponse
		)

		BeforeAll(func() {
			for _, text := range []string{"2+2?", "Capital of Peru?"} {
				resp, body := call(http.MethodPost, "/api/v1/questions", "erin", "qa-editors", versioning.CreateQuestionRequest{
					Question: text, QuestionType: "simple_fact",
				})
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var q versioning.QuestionResponse
				Expect(json.Unmarshal(body, &q)).To(Succeed())
				questionIDs = append(questionIDs, q.ID)
			}
		})

		It("creates an unpublished dataset", func() {
			resp, body := call(http.MethodPost, "/api/v1/dataset-versions", "erin", "qa-editors", versioning.CreateDatasetRequest{
				Name: "suite-release", QuestionIDs: questionIDs,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(json.Unmarshal(body, &dataset)).To(Succeed())
			Expect(dataset.QuestionCount).To(Equal(len(questionIDs)))
			Expect(dataset.IsPublished).To(BeFalse())
		})

		It("publishes once and keeps the release date", func() {
			path := fmt.Sprintf("/api/v1/dataset-versions/%d/publish", dataset.ID)
			resp, body := call(http.MethodPost, path, "erin", "qa-editors", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var published versioning.DatasetResponse
			Expect(json.Unmarshal(body, &published)).To(Succeed())
			Expect(published.IsPublished).To(BeTrue())
			Expect(published.ReleaseDate).NotTo(BeNil())

			resp, body = call(http.MethodPost, path, "erin", "qa-editors", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var again versioning.DatasetResponse
			Expect(json.Unmarshal(body, &again)).To(Succeed())
			Expect(again.ReleaseDate.Equal(*published.ReleaseDate)).To(BeTrue())
		})

		It("is reported as the latest dataset", func() {
			resp, body := call(http.MethodGet, "/api/v1/dataset-versions/latest", "", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var latest versioning.DatasetResponse
			Expect(json.Unmarshal(body, &latest)).To(Succeed())
			Expect(latest.ID).To(Equal(dataset.ID))
			Expect(latest.IsLatest).To(BeTrue())
		})

		It("denies unmapped endpoints", func() {
			resp, _ := call(http.MethodGet, "/api/v1/unknown", "root", "qa-admins", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})
})
