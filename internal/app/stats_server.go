package app

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebSocket upgrader for real-time stats
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const statsPushInterval = 2 * time.Second

// startHealthServer starts an HTTP server for health checks, stats and the
// positions dashboard.
func (r *Runner) startHealthServer(port int) {
	r.healthServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("health server error", zap.Error(err))
		}
	}()
}

func (r *Runner) router() *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// JSON stats endpoint
	router.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.GetStats())
	}).Methods(http.MethodGet)

	// Tracked positions, nearest to liquidation first
	router.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.Snapshot())
	}).Methods(http.MethodGet)

	// Current mark prices by coin
	router.HandleFunc("/markets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.cache.Snapshot())
	}).Methods(http.MethodGet)

	router.HandleFunc("/addresses", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.registry.All())
	}).Methods(http.MethodGet)

	router.HandleFunc("/addresses/{address}", r.handleAddAddress).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// WebSocket endpoint for real-time stats
	router.HandleFunc("/ws", r.handleStatsSocket)

	// HTML dashboard
	router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(dashboardHTML))
	}).Methods(http.MethodGet)

	return router
}

func (r *Runner) handleAddAddress(w http.ResponseWriter, req *http.Request) {
	address := mux.Vars(req)["address"]

	if err := r.AddAddressManually(address); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidAddress) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	addr, _ := normalizeAddress(address)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"address": addr,
		"status":  "queued",
	})
}

func (r *Runner) handleStatsSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statsPushInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(r.Snapshot()); err != nil {
			return // Client disconnected
		}
		select {
		case <-closed:
			return
		case <-req.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Liquidation Radar</title>
    <style>
        :root {
            --bg-primary: #0d1117;
            --bg-secondary: #161b22;
            --bg-tertiary: #21262d;
            --border-color: #30363d;
            --text-primary: #c9d1d9;
            --text-secondary: #8b949e;
            --accent-blue: #58a6ff;
            --accent-green: #3fb950;
            --accent-red: #f85149;
            --accent-yellow: #d29922;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, monospace; background: var(--bg-primary); color: var(--text-primary); padding: 20px; line-height: 1.5; }
        h1 { color: var(--accent-blue); font-size: 24px; }
        h3 { color: var(--accent-blue); font-size: 16px; margin-bottom: 12px; }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 20px; }
        .status { display: flex; align-items: center; gap: 8px; }
        .status-dot { width: 10px; height: 10px; border-radius: 50%; background: var(--accent-red); }
        .status-dot.connected { background: var(--accent-green); }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(240px, 1fr)); gap: 20px; margin-bottom: 20px; }
        .card { background: var(--bg-secondary); border: 1px solid var(--border-color); border-radius: 8px; padding: 16px; }
        .stat-row { display: flex; justify-content: space-between; padding: 4px 0; border-bottom: 1px solid var(--bg-tertiary); }
        .stat-label { color: var(--text-secondary); }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--bg-tertiary); }
        th { color: var(--text-secondary); font-weight: normal; text-transform: uppercase; font-size: 11px; }
        .CRITICAL { color: var(--accent-red); font-weight: 600; }
        .WARNING { color: var(--accent-yellow); }
        .WATCH { color: var(--text-secondary); }
        .LONG { color: var(--accent-green); }
        .SHORT { color: var(--accent-red); }
        a { color: var(--accent-blue); text-decoration: none; }
        .tag { background: #388bfd33; color: var(--accent-blue); padding: 1px 6px; border-radius: 4px; font-size: 11px; margin-left: 4px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Liquidation Radar</h1>
        <div class="status"><div id="wsDot" class="status-dot"></div><span id="wsStatus">Connecting...</span></div>
    </div>

    <div class="grid">
        <div class="card">
            <h3>Service</h3>
            <div class="stat-row"><span class="stat-label">Uptime</span><span id="uptime">-</span></div>
            <div class="stat-row"><span class="stat-label">Build</span><span id="build">-</span></div>
            <div class="stat-row"><span class="stat-label">Platforms</span><span id="platforms">-</span></div>
        </div>
        <div class="card">
            <h3>Stream</h3>
            <div class="stat-row"><span class="stat-label">Connected</span><span id="streamConnected">-</span></div>
            <div class="stat-row"><span class="stat-label">Trades</span><span id="streamTrades">-</span></div>
            <div class="stat-row"><span class="stat-label">Reconnects</span><span id="streamReconnects">-</span></div>
        </div>
        <div class="card">
            <h3>Scanner</h3>
            <div class="stat-row"><span class="stat-label">Addresses</span><span id="registrySize">-</span></div>
            <div class="stat-row"><span class="stat-label">Cycles</span><span id="cycles">-</span></div>
            <div class="stat-row"><span class="stat-label">Last scan</span><span id="lastScan">-</span></div>
        </div>
        <div class="card">
            <h3>Alerts</h3>
            <div class="stat-row"><span class="stat-label">Sent</span><span id="alertsSent">-</span></div>
            <div class="stat-row"><span class="stat-label">Suppressed</span><span id="alertsSuppressed">-</span></div>
            <div class="stat-row"><span class="stat-label">Liquidated</span><span id="alertsLiquidated">-</span></div>
        </div>
    </div>

    <div class="card">
        <h3>Positions near liquidation</h3>
        <table>
            <thead><tr><th>Level</th><th>Address</th><th>Coin</th><th>Side</th><th>Notional</th><th>Mark</th><th>Liq</th><th>Distance</th><th>Lev</th></tr></thead>
            <tbody id="positions"><tr><td colspan="9" class="stat-label">No positions tracked</td></tr></tbody>
        </table>
    </div>

    <script>
        const usd = v => '$' + (v >= 1e6 ? (v / 1e6).toFixed(2) + 'M' : (v / 1e3).toFixed(1) + 'K');
        const short = a => a.slice(0, 6) + '…' + a.slice(-4);
        const set = (id, v) => document.getElementById(id).textContent = v;

        function render(snap) {
            const s = snap.stats;
            set('uptime', s.uptime);
            set('build', s.build.commit.slice(0, 8));
            set('platforms', (s.notifications.platforms || []).join(', ') || 'none');
            set('streamConnected', s.stream.connected ? 'yes' : 'no');
            set('streamTrades', s.stream.trade_count);
            set('streamReconnects', s.stream.reconnects);
            set('registrySize', snap.registry_size);
            set('cycles', s.scanner.cycles);
            set('lastScan', s.scanner.last_scan_duration || '-');
            set('alertsSent', s.alerts.sent);
            set('alertsSuppressed', s.alerts.suppressed);
            set('alertsLiquidated', s.alerts.liquidated);

            const rows = (snap.tracked_positions || []).map(p =>
                '<tr>' +
                '<td class="' + p.danger_level + '">' + p.danger_level + '</td>' +
                '<td><a href="https://app.hyperliquid.xyz/explorer/address/' + p.address + '" target="_blank">' + short(p.address) + '</a>' +
                    (p.labels || []).map(l => '<span class="tag">' + l + '</span>').join('') + '</td>' +
                '<td>' + p.coin + '</td>' +
                '<td class="' + p.direction + '">' + p.direction + '</td>' +
                '<td>' + usd(p.notional_usd) + '</td>' +
                '<td>' + p.mark_price + '</td>' +
                '<td>' + p.liquidation_price + '</td>' +
                '<td>' + (p.distance_to_liq * 100).toFixed(2) + '%</td>' +
                '<td>' + (p.leverage || '-') + 'x</td>' +
                '</tr>');
            document.getElementById('positions').innerHTML = rows.length ? rows.join('') :
                '<tr><td colspan="9" class="stat-label">No positions tracked</td></tr>';
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/ws');
            ws.onopen = () => { document.getElementById('wsDot').classList.add('connected'); set('wsStatus', 'Live'); };
            ws.onmessage = e => render(JSON.parse(e.data));
            ws.onclose = () => {
                document.getElementById('wsDot').classList.remove('connected');
                set('wsStatus', 'Reconnecting...');
                setTimeout(connect, 3000);
            };
        }
        connect();
    </script>
</body>
</html>
`
