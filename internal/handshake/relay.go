// internal/handshake/relay.go
package handshake

import (
	"encoding/json"
	"html/template"
	"net/http"
)

// relayTmpl is the minimal page the provider redirect lands on. Its only job
// is to hand the outcome to the initiating window and self-close. Delivery
// is redundant on purpose: window.opener.postMessage when the opener
// reference survived, and a named BroadcastChannel when cross-origin-opener
// policies severed it. The initiating window keeps the first message and
// drops the duplicate.
var relayTmpl = template.Must(template.New("relay").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body>
<p>You can close this window.</p>
<script>
(function () {
  var msg = {{.MessageJSON}};
  try {
    if (window.opener && !window.opener.closed) {
      window.opener.postMessage(msg, {{.Origin}});
    }
  } catch (e) { /* opener gone */ }
  try {
    var ch = new BroadcastChannel({{.Channel}});
    ch.postMessage(msg);
    ch.close();
  } catch (e) { /* channel unsupported */ }
  window.close();
})();
</script>
</body>
</html>
`))

func (a *App) renderRelay(w http.ResponseWriter, msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = relayTmpl.Execute(w, map[string]any{
		"MessageJSON": template.JS(raw),
		"Origin":      a.origin,
		"Channel":     BroadcastChannelName,
	})
}
