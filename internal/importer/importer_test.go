package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/kbyg/internal/outreach"
	"github.com/stellarlinkco/kbyg/internal/prompts"
	"github.com/stellarlinkco/kbyg/internal/store"
	"github.com/stellarlinkco/kbyg/internal/tools"
)

const attendees = `Name,Title,Company,LinkedIn,Event,Date,Location
Ana Ruiz,CEO,Acme Health,https://linkedin.com/in/ana,HLTH 2025,Oct 19,"Las Vegas, NV"
,,No People Inc,,HLTH 2025,Oct 19,"Las Vegas, NV"
Bob Li,CTO,Acme Health,,HLTH 2025,Oct 19,"Las Vegas, NV"
Cara Diaz,VP Sales,,,HLTH 2025,Oct 19,"Las Vegas, NV"
Dan Wu,Founder,Beta Bio,,ViVE,Feb 2,"Nashville, TN"
`

func TestParseCSV(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader(attendees))
	if err != nil {
		t.Fatalf("ParseCSV error: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if rows[0].Location != "Las Vegas, NV" || rows[0].LinkedIn != "https://linkedin.com/in/ana" {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
}

func TestParseCSV_HeaderCaseAndOrder(t *testing.T) {
	in := " company , NAME\nAcme,Ana\n"
	rows, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseCSV error: %v", err)
	}
	if len(rows) != 1 || rows[0].Company != "Acme" || rows[0].Name != "Ana" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestParseCSV_Errors(t *testing.T) {
	if _, err := ParseCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := ParseCSV(strings.NewReader("Name,Title\nAna,CEO\n")); err == nil {
		t.Fatal("expected error without Company column")
	}
}

func TestGroupByCompany(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader(attendees))
	if err != nil {
		t.Fatalf("ParseCSV error: %v", err)
	}
	companies := GroupByCompany(rows, "Healthcare Technology")
	if len(companies) != 3 {
		t.Fatalf("expected 3 companies, got %d", len(companies))
	}
	names := []string{companies[0].Name, companies[1].Name, companies[2].Name}
	if strings.Join(names, "|") != "Acme Health|No People Inc|Beta Bio" {
		t.Fatalf("unexpected order: %v", names)
	}

	acme := companies[0]
	if acme.Industry != "Healthcare Technology" {
		t.Fatalf("unexpected industry: %q", acme.Industry)
	}
	if acme.Context != `Attended "HLTH 2025" on Oct 19 in Las Vegas` {
		t.Fatalf("unexpected context: %q", acme.Context)
	}
	if len(acme.Employees) != 2 || acme.Employees[1].Name != "Bob Li" || acme.Employees[1].LinkedIn != "" {
		t.Fatalf("unexpected employees: %+v", acme.Employees)
	}
	if companies[1].Employees == nil || len(companies[1].Employees) != 0 {
		t.Fatalf("expected empty employee list, got %+v", companies[1].Employees)
	}
}

func TestAttendance(t *testing.T) {
	tests := []struct {
		row  Row
		want string
	}{
		{Row{}, ""},
		{Row{Event: "ViVE"}, `Attended "ViVE"`},
		{Row{Event: "ViVE", Location: "Nashville"}, `Attended "ViVE" in Nashville`},
		{Row{Event: "ViVE", Date: "Feb 2", Location: "Nashville, TN"}, `Attended "ViVE" on Feb 2 in Nashville`},
	}
	for _, tt := range tests {
		if got := attendance(tt.row); got != tt.want {
			t.Fatalf("attendance(%+v) = %q, want %q", tt.row, got, tt.want)
		}
	}
}

type recordingCaller struct {
	mu    sync.Mutex
	calls []map[string]any
	fail  map[string]bool
}

func (c *recordingCaller) Call(_ context.Context, tool string, args map[string]any) tools.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, args)
	if tool != tools.AddCompany {
		return tools.Response{Error: "Unknown tool: " + tool}
	}
	if c.fail[args["name"].(string)] {
		return tools.Response{Error: "boom"}
	}
	return tools.Response{Success: true}
}

func TestRun_CountsFailuresAndContinues(t *testing.T) {
	caller := &recordingCaller{fail: map[string]bool{"B": true}}
	companies := []*store.Company{{Name: "A"}, {Name: "B"}, {Name: "C"}}

	res, err := New(caller, Options{}).Run(context.Background(), companies)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Total != 3 || res.Added != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "B: boom" {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(caller.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(caller.calls))
	}
}

func TestRun_DryRunMakesNoCalls(t *testing.T) {
	caller := &recordingCaller{}
	res, err := New(caller, Options{DryRun: true, Delay: time.Hour}).Run(context.Background(), []*store.Company{{Name: "A"}, {Name: "B"}})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(caller.calls) != 0 || res.Total != 2 || res.Added != 0 {
		t.Fatalf("dry run should not call tools: calls=%d res=%+v", len(caller.calls), res)
	}
}

func TestRun_DelayIsCancellable(t *testing.T) {
	caller := &recordingCaller{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := New(caller, Options{Delay: time.Hour}).Run(ctx, []*store.Company{{Name: "A"}, {Name: "B"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("delay ignored cancellation")
	}
	if res.Added != 1 || len(caller.calls) != 1 {
		t.Fatalf("expected only the first company sent, got %+v", res)
	}
}

func TestRun_ArgsShape(t *testing.T) {
	caller := &recordingCaller{}
	c := &store.Company{
		Name:      "Acme",
		Industry:  "Health",
		Context:   "met",
		Employees: []store.Employee{{Name: "Ana", Title: "CEO", LinkedIn: "li"}, {Name: "Bob"}},
	}
	if _, err := New(caller, Options{}).Run(context.Background(), []*store.Company{c}); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	got := caller.calls[0]
	if got["name"] != "Acme" || got["industry"] != "Health" || got["context"] != "met" {
		t.Fatalf("unexpected args: %+v", got)
	}
	emps := got["employees"].([]any)
	if len(emps) != 2 {
		t.Fatalf("unexpected employees: %+v", emps)
	}
	if _, ok := emps[1].(map[string]any)["linkedin"]; ok {
		t.Fatal("empty linkedin should be omitted")
	}
}

func TestRun_ThroughDispatcher(t *testing.T) {
	st, err := store.OpenSQLite(t.TempDir() + "/gtm.db")
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer st.Close()

	set, err := prompts.Defaults()
	if err != nil {
		t.Fatalf("Defaults error: %v", err)
	}
	reg := tools.NewRegistry()
	if err := tools.RegisterGTM(reg, st, outreach.New(nil, st, set)); err != nil {
		t.Fatalf("RegisterGTM error: %v", err)
	}
	rows, err := ParseCSV(strings.NewReader(attendees))
	if err != nil {
		t.Fatalf("ParseCSV error: %v", err)
	}

	res, err := New(tools.NewDispatcher(reg, nil), Options{}).Run(context.Background(), GroupByCompany(rows, ""))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Added != 3 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	acme, err := st.GetCompany(context.Background(), "acme health")
	if err != nil {
		t.Fatalf("GetCompany error: %v", err)
	}
	if len(acme.Employees) != 2 || acme.Employees[0].LinkedIn != "https://linkedin.com/in/ana" {
		t.Fatalf("unexpected stored employees: %+v", acme.Employees)
	}
}
