package clinic

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *echo.Echo, *MemoryStore) {
	t.Helper()
	s, store := newTestSession(t, opts...)
	h := NewHandler(s)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))
	return h, e, store
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RegisterPatient(t *testing.T) {
	h, e, _ := newTestHandler(t)

	body := `{"name":"李四","age":28,"gender":"female","phone":"13900000000"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.RegisterPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Patient
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.ID != "P002" || p.Status != PatientWaiting {
		t.Errorf("unexpected patient %+v", p)
	}
}

func TestHandler_RegisterPatient_BadRequest(t *testing.T) {
	h, e, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{"age":3,"gender":"male"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.RegisterPatient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, e, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("P404")

	err := h.GetPatient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_VisitAndDispense(t *testing.T) {
	_, e, store := newTestHandler(t)

	rec := serve(e, http.MethodPost, "/api/v1/patients/P001/visit",
		`{"symptoms":"fever","diagnosis":"flu","items":[{"medication_id":"M1","dosage":"tid","quantity":2},{"medication_id":"M2","quantity":1}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var visit VisitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &visit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if visit.Prescription == nil || visit.Prescription.PrescriberID != DefaultPrescriberID {
		t.Fatalf("unexpected visit %+v", visit)
	}

	rec = serve(e, http.MethodPost, "/api/v1/prescriptions/"+visit.Prescription.ID+"/dispense", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, http.MethodPost, "/api/v1/prescriptions/"+visit.Prescription.ID+"/dispense", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on second dispense, got %d", rec.Code)
	}

	snap := mustSnapshot(t, store)
	if snap.Medications["M1"].Stock != 8 || snap.Medications["M2"].Stock != 4 {
		t.Errorf("expected M1=8 M2=4, got M1=%d M2=%d", snap.Medications["M1"].Stock, snap.Medications["M2"].Stock)
	}
}

func TestHandler_Visit_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty prescription", "/api/v1/patients/P001/visit", `{"items":[]}`, http.StatusBadRequest},
		{"zero quantity", "/api/v1/patients/P001/visit", `{"items":[{"medication_id":"M1","quantity":0}]}`, http.StatusBadRequest},
		{"unknown medication", "/api/v1/patients/P001/visit", `{"items":[{"medication_id":"M9","quantity":1}]}`, http.StatusUnprocessableEntity},
		{"unknown patient", "/api/v1/patients/P404/visit", `{"items":[{"medication_id":"M1","quantity":1}]}`, http.StatusUnprocessableEntity},
		{"malformed", "/api/v1/patients/P001/visit", `{"items":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, e, store := newTestHandler(t)
			rec := serve(e, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if len(mustSnapshot(t, store).Prescriptions) != 0 {
				t.Error("rejected visit must not store a prescription")
			}
		})
	}
}

func TestHandler_AdjustStock(t *testing.T) {
	_, e, _ := newTestHandler(t)

	rec := serve(e, http.MethodPatch, "/api/v1/medications/M1", `{"change":-25}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var v MedicationView
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v.Medication == nil || v.Stock != 0 || v.Level != StockShortage {
		t.Errorf("expected clamped shortage, got %+v", v)
	}

	if rec := serve(e, http.MethodPatch, "/api/v1/medications/M1", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without change, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodPatch, "/api/v1/medications/M404", `{"change":1}`); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_AdjustStock_OutOfRange(t *testing.T) {
	_, e, store := newTestHandler(t)

	for _, body := range []string{`{"change":9223372036854775807}`, `{"change":2147483647}`} {
		rec := serve(e, http.MethodPatch, "/api/v1/medications/M1", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
	if got := mustSnapshot(t, store).Medications["M1"].Stock; got != 10 {
		t.Errorf("expected stock to stay 10, got %d", got)
	}
}

func TestHandler_Prescribers(t *testing.T) {
	_, e, store := newTestHandler(t, WithPrescribers(DemoPrescribers()...))

	rec := serve(e, http.MethodGet, "/api/v1/prescribers", "")
	var list []Prescriber
	json.Unmarshal(rec.Body.Bytes(), &list)
	if rec.Code != http.StatusOK || len(list) != 1 || list[0].Name != "王医生" {
		t.Fatalf("expected demo directory, got %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodPost, "/api/v1/patients/P001/visit",
		`{"prescriber_id":"DOC404","items":[{"medication_id":"M1","quantity":1}]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(mustSnapshot(t, store).Prescriptions) != 0 {
		t.Error("rejected visit must not store a prescription")
	}
}

func TestHandler_ListMedications(t *testing.T) {
	_, e, _ := newTestHandler(t)

	rec := serve(e, http.MethodGet, "/api/v1/medications?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data    []MedicationView `json:"data"`
		Total   int              `json:"total"`
		HasMore bool             `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || len(page.Data) != 1 || !page.HasMore {
		t.Errorf("unexpected page %+v", page)
	}
	if page.Data[0].ID != "M1" || page.Data[0].Level != StockShortage {
		t.Errorf("unexpected first medication %+v", page.Data[0])
	}

	rec = serve(e, http.MethodGet, "/api/v1/inventory/alerts", "")
	var alerts alertsResponse
	json.Unmarshal(rec.Body.Bytes(), &alerts)
	if alerts.Warning != 100 || alerts.Shortage != 50 || len(alerts.Data) != 2 {
		t.Errorf("unexpected alerts %+v", alerts)
	}
}

func TestHandler_ListFilters(t *testing.T) {
	_, e, _ := newTestHandler(t)

	if rec := serve(e, http.MethodGet, "/api/v1/patients?status=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad patient status, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/api/v1/prescriptions?status=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad prescription status, got %d", rec.Code)
	}
	rec := serve(e, http.MethodGet, "/api/v1/queue", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"P001"`) {
		t.Errorf("expected P001 in queue, got %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, http.MethodGet, "/api/v1/prescriptions?patient_id=P001", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty prescription page, got %s", rec.Body.String())
	}
}

func TestHandler_Summary_NoAdvisor(t *testing.T) {
	_, e, _ := newTestHandler(t)

	rec := serve(e, http.MethodPost, "/api/v1/patients/P001/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp summaryResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Available || resp.Summary != "no summary available" {
		t.Errorf("unexpected summary %+v", resp)
	}

	if rec := serve(e, http.MethodPost, "/api/v1/patients/P404/summary", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Advice(t *testing.T) {
	_, e, _ := newTestHandler(t)

	if rec := serve(e, http.MethodPost, "/api/v1/advice", `{"symptoms":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without symptoms, got %d", rec.Code)
	}
	rec := serve(e, http.MethodPost, "/api/v1/advice", `{"symptoms":"cough"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"available":false`) {
		t.Errorf("expected unavailable advice, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_StoreUnavailable(t *testing.T) {
	store := newFaultStore()
	seedFixture(t, store)
	h := NewHandler(NewSession(store))
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))
	store.fail("snapshot:")

	if rec := serve(e, http.MethodGet, "/api/v1/medications", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
