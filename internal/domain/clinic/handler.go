package clinic

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinic/his/pkg/pagination"
)

type Handler struct {
	session *Session
}

func NewHandler(session *Session) *Handler {
	return &Handler{session: session}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Front desk and clinician
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.RegisterPatient)
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/queue", h.Queue)
	api.POST("/patients/:id/visit", h.CommitVisit)
	api.POST("/patients/:id/summary", h.Summarize)
	api.POST("/advice", h.Suggest)
	api.GET("/prescribers", h.ListPrescribers)

	// Store room
	api.GET("/medications", h.ListMedications)
	api.GET("/medications/:id", h.GetMedication)
	api.PATCH("/medications/:id", h.AdjustStock)
	api.GET("/inventory/alerts", h.LowStock)

	// Pharmacy
	api.GET("/prescriptions", h.ListPrescriptions)
	api.GET("/prescriptions/:id", h.GetPrescription)
	api.POST("/prescriptions/:id/dispense", h.Dispense)
}

// httpError maps workflow errors to HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, ErrUnknownPatient),
		errors.Is(err, ErrUnknownMedication),
		errors.Is(err, ErrUnknownPrescriber):
		// A reference inside the request body is wrong, not the URL.
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyDispensed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDuplicateID):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrEmptyPrescription),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPatient):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Patients --

func (h *Handler) RegisterPatient(c echo.Context) error {
	var r Registration
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.session.RegisterPatient(c.Request().Context(), r)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.session.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	status := PatientStatus(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	patients, err := h.session.ListPatients(c.Request().Context(), status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(patients, pagination.FromContext(c)))
}

func (h *Handler) Queue(c echo.Context) error {
	patients, err := h.session.Queue(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(patients, pagination.FromContext(c)))
}

type visitRequest struct {
	Symptoms     string     `json:"symptoms"`
	Diagnosis    string     `json:"diagnosis"`
	PrescriberID string     `json:"prescriber_id"`
	Items        []LineItem `json:"items"`
}

func (h *Handler) CommitVisit(c echo.Context) error {
	var req visitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.session.CommitVisit(c.Request().Context(), c.Param("id"),
		strings.TrimSpace(req.Symptoms), strings.TrimSpace(req.Diagnosis),
		req.Items, strings.TrimSpace(req.PrescriberID), time.Now().UTC())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

type summaryResponse struct {
	Available bool   `json:"available"`
	Summary   string `json:"summary"`
}

func (h *Handler) Summarize(c echo.Context) error {
	summary, ok, err := h.session.Summarize(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if !ok {
		summary = "no summary available"
	}
	return c.JSON(http.StatusOK, summaryResponse{Available: ok, Summary: summary})
}

type adviceRequest struct {
	Symptoms string `json:"symptoms"`
}

func (h *Handler) Suggest(c echo.Context) error {
	var req adviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Symptoms) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "symptoms are required")
	}
	advice, err := h.session.Suggest(c.Request().Context(), req.Symptoms)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, advice)
}

// -- Medications --

func (h *Handler) ListMedications(c echo.Context) error {
	meds, err := h.session.ListMedications(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if level := StockLevel(c.QueryParam("level")); level != "" {
		filtered := make([]*MedicationView, 0, len(meds))
		for _, m := range meds {
			if m.Level == level {
				filtered = append(filtered, m)
			}
		}
		meds = filtered
	}
	return c.JSON(http.StatusOK, pagination.Page(meds, pagination.FromContext(c)))
}

func (h *Handler) GetMedication(c echo.Context) error {
	m, err := h.session.GetMedication(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListPrescribers(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Prescribers())
}

type adjustRequest struct {
	Change *int `json:"change"`
}

func (h *Handler) AdjustStock(c echo.Context) error {
	var req adjustRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Change == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "change is required")
	}
	m, err := h.session.AdjustStock(c.Request().Context(), c.Param("id"), *req.Change)
	if err != nil {
		if errors.Is(err, ErrUnknownMedication) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

type alertsResponse struct {
	Warning  int               `json:"warning_level"`
	Shortage int               `json:"shortage_level"`
	Data     []*MedicationView `json:"data"`
}

func (h *Handler) LowStock(c echo.Context) error {
	meds, err := h.session.LowStock(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if meds == nil {
		meds = []*MedicationView{}
	}
	t := h.session.Thresholds()
	return c.JSON(http.StatusOK, alertsResponse{Warning: t.Warning, Shortage: t.Shortage, Data: meds})
}

// -- Prescriptions --

func (h *Handler) ListPrescriptions(c echo.Context) error {
	f := PrescriptionFilter{
		Status:    PrescriptionStatus(c.QueryParam("status")),
		PatientID: c.QueryParam("patient_id"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	rxs, err := h.session.ListPrescriptions(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(rxs, pagination.FromContext(c)))
}

func (h *Handler) GetPrescription(c echo.Context) error {
	rx, err := h.session.GetPrescription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) Dispense(c echo.Context) error {
	res, err := h.session.CommitDispense(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
