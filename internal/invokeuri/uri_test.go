package invokeuri

import "testing"

func TestParse_FullURI(t *testing.T) {
	u, err := Parse("object://helpdesk/tickets#select?status=open")
	if err != nil {
		t.Fatal(err)
	}
	if u.Schema != "object" || u.Namespace != "helpdesk" || u.Object != "tickets" || u.Method != "select" {
		t.Errorf("got %+v", u)
	}
	if got := u.Query.Get("status"); got != "open" {
		t.Errorf("query status = %q", got)
	}
}

func TestParse_NoMethodNoQuery(t *testing.T) {
	u, err := Parse("object://helpdesk/tickets")
	if err != nil {
		t.Fatal(err)
	}
	if u.Method != "" {
		t.Errorf("method = %q, want empty", u.Method)
	}
}

func TestParse_RejectsMissingNamespace(t *testing.T) {
	if _, err := Parse("object:///tickets"); err == nil {
		t.Fatal("expected error for missing namespace")
	}
}

func TestParse_RejectsMissingObject(t *testing.T) {
	if _, err := Parse("object://helpdesk"); err == nil {
		t.Fatal("expected error for missing object")
	}
}

func TestURLNoMethod_DropsMethodAndQuery(t *testing.T) {
	u, err := Parse("object://helpdesk/tickets#update?id=1")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := u.URLNoMethod(), "object://helpdesk/tickets"; got != want {
		t.Errorf("URLNoMethod() = %q, want %q", got, want)
	}
}

func TestIsWriteMethod(t *testing.T) {
	cases := map[string]bool{
		MethodSelect:     false,
		MethodQuery:      false,
		MethodPagedQuery: false,
		MethodInsert:     true,
		MethodUpdate:     true,
		MethodUpsert:     true,
		MethodDelete:     true,
		MethodDeleteBy:   true,
		MethodUpdateBy:   true,
	}
	for method, want := range cases {
		u := &InvokeURI{Method: method}
		if got := u.IsWriteMethod(); got != want {
			t.Errorf("IsWriteMethod(%q) = %v, want %v", method, got, want)
		}
	}
}

func TestIsPluginSchema(t *testing.T) {
	obj := &InvokeURI{Schema: "object"}
	qry := &InvokeURI{Schema: "query"}
	mqtt := &InvokeURI{Schema: "mqtt"}
	if obj.IsPluginSchema() || qry.IsPluginSchema() {
		t.Error("object/query should not be plugin schemas")
	}
	if !mqtt.IsPluginSchema() {
		t.Error("mqtt should be a plugin schema")
	}
}

func TestString_RoundTrip(t *testing.T) {
	u, err := Parse("restapi://integrations/weather#invoke?city=austin")
	if err != nil {
		t.Fatal(err)
	}
	back, err := Parse(u.String())
	if err != nil {
		t.Fatal(err)
	}
	if back.Schema != u.Schema || back.Namespace != u.Namespace || back.Object != u.Object || back.Method != u.Method {
		t.Errorf("round trip mismatch: %+v vs %+v", u, back)
	}
}
