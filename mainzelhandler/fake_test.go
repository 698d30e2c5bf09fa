package mainzelhandler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
)

// fakeServer plays both the mainzelhandler backend and the Mainzelliste.
// Two patients with the same name but a different birthdate are a conflict
// unless sureness is set. An ort of "???" is rejected as invalid IDAT and a
// vorname of "Crash" makes the Mainzelliste fail. With plainCreated set a
// successful reconciliation answers with a body that is not json.
type fakeServer struct {
	*httptest.Server

	mu           sync.Mutex
	useCallback  bool
	apiVersion   string
	plainCreated bool
	tokens       map[string]bool // token id -> still valid
	reads        map[string][]string
	patients     map[string]map[string]string // pid -> wire fields
	order        []string
	mdat         map[string]string
	nextToken    int
	formBodies   []string
	contentTypes []string
	sendCalls    int
	tokenCalls   int
	versionSeen  []string
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		apiVersion: DefaultAPIVersion,
		tokens:     map[string]bool{},
		reads:      map[string][]string{},
		patients:   map[string]map[string]string{},
		mdat:       map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/tokens/addPatient", f.addPatientTokens)
	mux.HandleFunc("/tokens/readPatients", f.readPatientsToken)
	mux.HandleFunc("/patients/send", f.send)
	mux.HandleFunc("/patients/request", f.request)
	mux.HandleFunc("/ml/patients", f.mainzelliste)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) handler(t *testing.T) *Handler {
	h, err := NewHandler(Config{ServerURL: f.URL, APIVersion: f.apiVersion})
	if err != nil {
		t.Fatalf("could not create handler: %s", err.Error())
	}
	return h
}

// addPatient stores a patient as if it had been pseudonymized before.
func (f *fakeServer) addPatient(pid string, fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patients[pid] = fields
	f.order = append(f.order, pid)
}

// expireTokens invalidates every token handed out so far.
func (f *fakeServer) expireTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.tokens {
		f.tokens[id] = false
	}
}

func (f *fakeServer) addPatientTokens(w http.ResponseWriter, r *http.Request) {
	var req models.PseudonymizationURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	resp := models.PseudonymizationURLResponse{UseCallback: f.useCallback, URLTokens: []string{}}
	for i := 0; i < req.Amount; i++ {
		f.nextToken++
		id := fmt.Sprintf("token%d", f.nextToken)
		f.tokens[id] = true
		resp.URLTokens = append(resp.URLTokens, f.URL+"/ml/patients?tokenId="+id)
	}
	writeJSON(w, resp)
}

func (f *fakeServer) readPatientsToken(w http.ResponseWriter, r *http.Request) {
	var req models.DepseudonymizationURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := models.DepseudonymizationURLResponse{InvalidPseudonyms: []string{}}
	var valid []string
	for _, p := range req.Pseudonyms {
		if _, ok := f.patients[p]; ok {
			valid = append(valid, p)
		} else {
			resp.InvalidPseudonyms = append(resp.InvalidPseudonyms, p)
		}
	}
	if len(valid) > 0 {
		f.nextToken++
		id := fmt.Sprintf("read%d", f.nextToken)
		f.reads[id] = valid
		resp.URL = f.URL + "/ml/patients?tokenId=" + id
	}
	writeJSON(w, resp)
}

func (f *fakeServer) send(w http.ResponseWriter, r *http.Request) {
	var entries []models.SendEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	result := models.SendResult{}
	for _, entry := range entries {
		f.mdat[entry.Pseudonym] = entry.MDAT
		result[entry.Pseudonym] = true
	}
	writeJSON(w, result)
}

func (f *fakeServer) request(w http.ResponseWriter, r *http.Request) {
	var pseudonyms []string
	if err := json.NewDecoder(r.Body).Decode(&pseudonyms); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	result := []models.RequestEntry{}
	for _, p := range pseudonyms {
		if mdat, ok := f.mdat[p]; ok {
			result = append(result, models.RequestEntry{Pseudonym: p, MDAT: mdat})
		}
	}
	writeJSON(w, result)
}

func (f *fakeServer) mainzelliste(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionSeen = append(f.versionSeen, r.Header.Get("mainzellisteApiVersion"))
	tokenID := r.URL.Query().Get("tokenId")

	if r.Method == http.MethodGet {
		valid, ok := f.reads[tokenID]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		result := []models.ReadPatientsEntry{}
		for _, pid := range valid {
			result = append(result, models.ReadPatientsEntry{
				Fields: f.patients[pid],
				IDs:    []models.ID{{IDType: "pid", IDString: pid}},
			})
		}
		writeJSON(w, result)
		return
	}

	if !f.tokens[tokenID] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	f.formBodies = append(f.formBodies, string(raw))
	f.contentTypes = append(f.contentTypes, r.Header.Get("Content-Type"))
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	fields := map[string]string{}
	for key := range form {
		if key != "sureness" {
			fields[key] = form.Get(key)
		}
	}
	if fields["vorname"] == "Crash" {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if fields["ort"] == "???" {
		http.Error(w, "invalid ort", http.StatusBadRequest)
		return
	}

	sure := form.Get("sureness") == "true"
	pid := ""
	for _, existing := range f.order {
		other := f.patients[existing]
		if other["vorname"] != fields["vorname"] || other["nachname"] != fields["nachname"] {
			continue
		}
		if sameBirthdate(other, fields) {
			pid = existing
			break
		}
		if !sure {
			w.WriteHeader(http.StatusConflict)
			return
		}
	}
	if pid == "" {
		pid = fmt.Sprintf("PID%04d", len(f.order)+1)
		f.patients[pid] = fields
		f.order = append(f.order, pid)
	}
	f.tokens[tokenID] = false

	if f.plainCreated {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created")
		return
	}
	w.WriteHeader(http.StatusCreated)
	if f.apiVersion == "1.0" {
		writeJSON(w, map[string]any{"newId": pid, "tentative": false})
		return
	}
	writeJSON(w, []models.ID{{IDType: "pid", IDString: pid}})
}

func sameBirthdate(a, b map[string]string) bool {
	for _, name := range []string{"geburtstag", "geburtsmonat", "geburtsjahr"} {
		if a[name] != b[name] {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	_ = json.NewEncoder(w).Encode(v)
}
