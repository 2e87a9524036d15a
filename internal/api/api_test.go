package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Spok95/school-transport/internal/auth"
	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/enrollment"
	"github.com/Spok95/school-transport/internal/eta"
	"github.com/Spok95/school-transport/internal/livelocation"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/tracking"
)

func init() { gin.SetMode(gin.TestMode) }

const (
	driverID  = "11111111-1111-1111-1111-111111111111"
	parentID  = "22222222-2222-2222-2222-222222222222"
	studentID = "33333333-3333-3333-3333-333333333333"
	testRequestID = "44444444-4444-4444-4444-444444444444"
)

type fakeTracking struct {
	Tracking
	gotStudent, gotStatus, gotKey string
	gotSession                    ctxutil.Session
	err                           error
}

func (f *fakeTracking) ChangeStatus(ctx context.Context, studentID, target, idemKey string) (*tracking.Transition, error) {
	f.gotStudent, f.gotStatus, f.gotKey = studentID, target, idemKey
	f.gotSession, _ = ctxutil.SessionFrom(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &tracking.Transition{
		StudentID: studentID,
		Old:       models.StatusAtHome,
		New:       models.StudentStatus(target),
		Legal:     true,
	}, nil
}

func (f *fakeTracking) Students(context.Context) ([]models.Student, error) {
	panic("boom")
}

type fakeEnrollment struct {
	Enrollment
	approval *enrollment.Approval
	err      error
}

func (f *fakeEnrollment) Approve(context.Context, string, string, string) (*enrollment.Approval, error) {
	return f.approval, f.err
}

func (f *fakeEnrollment) SignAgreement(context.Context, string) (*enrollment.Approval, error) {
	return f.approval, f.err
}

type fakeAccounts struct {
	Accounts
	users  map[string]models.User
	rated  auth.RatingInput
	search string
}

func (f *fakeAccounts) Rate(_ context.Context, id string, in auth.RatingInput) (*models.Rating, error) {
	f.rated = in
	if _, ok := f.users[id]; !ok {
		return nil, auth.ErrNotServed
	}
	return &models.Rating{RatedUserID: id, Rating: in.Rating}, nil
}

func (f *fakeAccounts) AvailableDrivers(_ context.Context, search string) ([]models.User, error) {
	f.search = search
	return nil, nil
}

func (f *fakeAccounts) User(_ context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", tracking.ErrNotFound)
	}
	return &u, nil
}

type fakeLocations struct {
	Locations
	loc *models.LiveLocation
}

func (f *fakeLocations) Get(_ context.Context, busID string) (*models.LiveLocation, error) {
	if f.loc == nil || f.loc.BusID != busID {
		return nil, livelocation.ErrNoLocation
	}
	return f.loc, nil
}

type env struct {
	router     http.Handler
	tokens     *auth.Tokens
	tracking   *fakeTracking
	enrollment *fakeEnrollment
	accounts   *fakeAccounts
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		tokens:     auth.NewTokens("test-secret", time.Hour),
		tracking:   &fakeTracking{},
		enrollment: &fakeEnrollment{},
		accounts: &fakeAccounts{users: map[string]models.User{
			driverID: {ID: driverID, Role: models.Driver, FullName: "Bob", Phone: "+1 (555) 010-0000"},
			parentID: {ID: parentID, Role: models.Parent, FullName: "Ann"},
		}},
	}
	noon := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	est := eta.NewEstimator(time.UTC)
	est.Now = func() time.Time { return noon }

	e.router = New(Deps{
		Tokens:     e.tokens,
		Tracking:   e.tracking,
		Enrollment: e.enrollment,
		Accounts:   e.accounts,
		Locations:  &fakeLocations{loc: &models.LiveLocation{BusID: "bus-7", Lat: 55.75, Lng: 37.61}},
		Estimator:  est,
	})
	return e
}

func (e *env) token(t *testing.T, u models.User) string {
	t.Helper()
	tok, _, err := e.tokens.Issue(u)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *env) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthzWithoutDB(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("ожидали X-Request-ID в ответе")
	}
}

func TestAuthentication(t *testing.T) {
	e := newEnv(t)

	if w := e.do(http.MethodGet, "/api/me", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("без токена: %d", w.Code)
	}

	w := e.do(http.MethodGet, "/api/me", "garbage", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("плохой токен: %d", w.Code)
	}
	var body errorBody
	decode(t, w, &body)
	if body.Hint == "" {
		t.Fatal("для просроченной сессии нужна подсказка")
	}

	other := auth.NewTokens("other-secret", time.Hour)
	tok, _, _ := other.Issue(models.User{ID: driverID, Role: models.Driver})
	if w := e.do(http.MethodGet, "/api/me", tok, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("чужая подпись: %d", w.Code)
	}
}

func TestChangeStatus(t *testing.T) {
	e := newEnv(t)
	driver := e.token(t, models.User{ID: driverID, Role: models.Driver, BusID: "bus-7"})
	parent := e.token(t, models.User{ID: parentID, Role: models.Parent})

	t.Run("parent forbidden", func(t *testing.T) {
		w := e.do(http.MethodPut, "/api/students/"+studentID+"/status", parent, `{"status":"picked-up"}`)
		if w.Code != http.StatusForbidden {
			t.Fatalf("code = %d", w.Code)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		w := e.do(http.MethodPut, "/api/students/"+studentID+"/status", driver, `{"status":"flying"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("code = %d body=%s", w.Code, w.Body.String())
		}
		var body errorBody
		decode(t, w, &body)
		if body.Fields["Status"] != "student_status" {
			t.Fatalf("fields = %v", body.Fields)
		}
	})

	t.Run("ok", func(t *testing.T) {
		w := e.do(http.MethodPut, "/api/students/"+studentID+"/status", driver, `{"status":"picked-up"}`,
			idempotencyHeader, "key-1")
		if w.Code != http.StatusOK {
			t.Fatalf("code = %d body=%s", w.Code, w.Body.String())
		}
		var tr tracking.Transition
		decode(t, w, &tr)
		if tr.New != models.StatusPickedUp || !tr.Legal {
			t.Fatalf("transition = %+v", tr)
		}
		f := e.tracking
		if f.gotStudent != studentID || f.gotStatus != "picked-up" || f.gotKey != "key-1" {
			t.Fatalf("аргументы: %q %q %q", f.gotStudent, f.gotStatus, f.gotKey)
		}
		if f.gotSession.UserID != driverID || f.gotSession.BusID != "bus-7" {
			t.Fatalf("сессия не дошла до сервиса: %+v", f.gotSession)
		}
	})

	t.Run("strict mode rejection", func(t *testing.T) {
		e.tracking.err = fmt.Errorf("%w: at-home → dropped-at-home", tracking.ErrIllegalTransition)
		defer func() { e.tracking.err = nil }()
		w := e.do(http.MethodPut, "/api/students/"+studentID+"/status", driver, `{"status":"dropped-at-home"}`)
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("code = %d", w.Code)
		}
	})

	t.Run("not assigned", func(t *testing.T) {
		e.tracking.err = tracking.ErrNotAssigned
		defer func() { e.tracking.err = nil }()
		w := e.do(http.MethodPut, "/api/students/"+studentID+"/status", driver, `{"status":"picked-up"}`)
		if w.Code != http.StatusForbidden {
			t.Fatalf("code = %d", w.Code)
		}
	})
}

func TestApproveCodes(t *testing.T) {
	e := newEnv(t)
	driver := e.token(t, models.User{ID: driverID, Role: models.Driver})

	e.enrollment.approval = &enrollment.Approval{Request: models.RideRequest{ID: "r1", Status: models.RequestApproved}}
	if w := e.do(http.MethodPost, "/api/requests/r1/approve", driver, ""); w.Code != http.StatusNotFound {
		t.Fatalf("не uuid: %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/requests/"+testRequestID+"/approve", driver, ""); w.Code != http.StatusCreated {
		t.Fatalf("первое одобрение: %d %s", w.Code, w.Body.String())
	}

	e.enrollment.approval = &enrollment.Approval{Replayed: true}
	if w := e.do(http.MethodPost, "/api/requests/"+testRequestID+"/approve", driver, `{"message":"ok"}`); w.Code != http.StatusOK {
		t.Fatalf("повтор с тем же ключом: %d", w.Code)
	}

	e.enrollment.approval, e.enrollment.err = nil, enrollment.ErrNotPending
	if w := e.do(http.MethodPost, "/api/requests/"+testRequestID+"/approve", driver, ""); w.Code != http.StatusConflict {
		t.Fatalf("повторное одобрение: %d", w.Code)
	}
}

func TestContactDriver(t *testing.T) {
	e := newEnv(t)
	parent := e.token(t, models.User{ID: parentID, Role: models.Parent})

	w := e.do(http.MethodGet, "/api/drivers/"+driverID+"/contact", parent, "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", w.Code, w.Body.String())
	}
	var links struct {
		WhatsApp string `json:"whatsapp"`
	}
	decode(t, w, &links)
	if !strings.HasPrefix(links.WhatsApp, "https://wa.me/15550100000?text=Hi%20Bob") {
		t.Fatalf("whatsapp = %q", links.WhatsApp)
	}

	if w := e.do(http.MethodGet, "/api/drivers/"+parentID+"/contact", parent, ""); w.Code != http.StatusNotFound {
		t.Fatalf("родитель не водитель: %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/api/drivers/nobody/contact", parent, ""); w.Code != http.StatusNotFound {
		t.Fatalf("не uuid: %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/api/drivers/"+studentID+"/contact", parent, ""); w.Code != http.StatusNotFound {
		t.Fatalf("нет пользователя: %d", w.Code)
	}
}

func TestRateDriver(t *testing.T) {
	e := newEnv(t)
	parent := e.token(t, models.User{ID: parentID, Role: models.Parent})
	driver := e.token(t, models.User{ID: driverID, Role: models.Driver})
	path := "/api/drivers/" + driverID + "/ratings"

	w := e.do(http.MethodPost, path, parent, `{"rating":5,"categories":{"safety":5},"review":"great"}`)
	if w.Code != http.StatusCreated || e.accounts.rated.Categories.Safety != 5 {
		t.Fatalf("оценка: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodPost, path, parent, `{"rating":7}`); w.Code != http.StatusBadRequest {
		t.Fatalf("оценка вне 1..5: %d", w.Code)
	}
	if w := e.do(http.MethodPost, path, driver, `{"rating":5}`); w.Code != http.StatusForbidden {
		t.Fatalf("водитель не оценивает: %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/drivers/"+studentID+"/ratings", parent, `{"rating":4}`); w.Code != http.StatusForbidden {
		t.Fatalf("чужой водитель: %d", w.Code)
	}

	if w := e.do(http.MethodGet, "/api/drivers?search=north", parent, ""); w.Code != http.StatusOK || e.accounts.search != "north" {
		t.Fatalf("поиск: %d %q", w.Code, e.accounts.search)
	}
}

func TestSignAgreementCodes(t *testing.T) {
	e := newEnv(t)
	parent := e.token(t, models.User{ID: parentID, Role: models.Parent})
	driver := e.token(t, models.User{ID: driverID, Role: models.Driver})
	path := "/api/agreements/" + testRequestID + "/sign"

	if w := e.do(http.MethodPost, path, driver, ""); w.Code != http.StatusForbidden {
		t.Fatalf("подпись водителем: %d", w.Code)
	}
	e.enrollment.approval = &enrollment.Approval{Request: models.RideRequest{ID: testRequestID, Status: models.RequestApproved}}
	if w := e.do(http.MethodPost, path, parent, ""); w.Code != http.StatusCreated {
		t.Fatalf("подпись: %d %s", w.Code, w.Body.String())
	}
	e.enrollment.approval, e.enrollment.err = nil, enrollment.ErrAgreementNotPending
	if w := e.do(http.MethodPost, path, parent, ""); w.Code != http.StatusConflict {
		t.Fatalf("повторная подпись: %d", w.Code)
	}
}

func TestBusETA(t *testing.T) {
	e := newEnv(t)
	parent := e.token(t, models.User{ID: parentID, Role: models.Parent})

	w := e.do(http.MethodGet, "/api/buses/bus-7/eta?lat=55.76&lng=37.62", parent, "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", w.Code, w.Body.String())
	}
	var est eta.Estimate
	decode(t, w, &est)
	if est.Minutes < 1 || est.TrafficCondition != "moderate" {
		t.Fatalf("estimate = %+v", est)
	}

	if w := e.do(http.MethodGet, "/api/buses/bus-7/eta?lat=x&lng=1", parent, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("плохие координаты: %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/api/buses/bus-7/eta?lat=91&lng=1", parent, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("вне диапазона: %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/api/buses/bus-9/eta?lat=1&lng=1", parent, ""); w.Code != http.StatusNotFound {
		t.Fatalf("автобус без позиции: %d", w.Code)
	}

	w = e.do(http.MethodPost, "/api/buses/bus-7/eta", parent,
		`{"stops":[{"id":"a","point":{"lat":55.76,"lng":37.62}},{"id":"b","point":{"lat":55.77,"lng":37.63}}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("маршрут: %d %s", w.Code, w.Body.String())
	}
	var stops []eta.StopEstimate
	decode(t, w, &stops)
	if len(stops) != 2 || stops[1].Minutes < stops[0].Minutes+eta.StopDwell {
		t.Fatalf("stops = %+v", stops)
	}
}

func TestLocationWriteRequiresOwnBus(t *testing.T) {
	e := newEnv(t)
	driver := e.token(t, models.User{ID: driverID, Role: models.Driver, BusID: "bus-1"})
	w := e.do(http.MethodPut, "/api/buses/bus-7/location", driver, `{"lat":1,"lng":2}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestRecoveryKeepsServing(t *testing.T) {
	e := newEnv(t)
	parent := e.token(t, models.User{ID: parentID, Role: models.Parent})
	if w := e.do(http.MethodGet, "/api/students", parent, ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("паника: %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("после паники сервер должен отвечать: %d", w.Code)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ctxutil.ErrNoSession, http.StatusUnauthorized},
		{auth.ErrWrongPassword, http.StatusUnauthorized},
		{fmt.Errorf("load: %w", enrollment.ErrNotFound), http.StatusNotFound},
		{enrollment.ErrAlreadyCancelled, http.StatusConflict},
		{auth.ErrEmailInUse, http.StatusConflict},
		{auth.ErrBusTaken, http.StatusConflict},
		{fmt.Errorf("claim: %w", db.ErrKeyReused), http.StatusConflict},
		{auth.ErrAlreadyRated, http.StatusConflict},
		{auth.ErrNotServed, http.StatusForbidden},
		{auth.ErrInvalidRating, http.StatusUnprocessableEntity},
		{enrollment.ErrAgreementNotPending, http.StatusConflict},
		{fmt.Errorf("%w: child name is required", enrollment.ErrInvalid), http.StatusUnprocessableEntity},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusOf(tc.err); got != tc.code {
			t.Errorf("statusOf(%v) = %d, want %d", tc.err, got, tc.code)
		}
	}
}
