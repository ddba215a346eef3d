package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
	"github.com/cocaine/cocaine-framework-go/internal/transport/http/util/auth"
	"github.com/cocaine/cocaine-framework-go/internal/transport/http/util/response"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Recorder 记录代理请求耗时
type Recorder interface {
	ObserveProxy(service, status string, seconds float64)
}

// Options 代理 API 依赖
type Options struct {
	Gateway     *dealer.Gateway
	Recorder    Recorder
	MaxBodySize int64
}

func RegisterRoutes(router *mux.Router, opts Options) *API {
	api := NewAPI(opts)
	router.HandleFunc("/dealer/{service}/{handle}", api.handleSend).Methods("POST")
	router.HandleFunc("/ws/{service}/{handle}", api.handleStream).Methods("GET")
	return api
}

type API struct {
	gw       *dealer.Gateway
	recorder Recorder
	maxBody  int64
	upgrader websocket.Upgrader
}

func NewAPI(opts Options) *API {
	return &API{
		gw:       opts.Gateway,
		recorder: opts.Recorder,
		maxBody:  opts.MaxBodySize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// handleSend 转发请求体，并以分块传输逐块写回响应
// 首块到达前的错误按类别返回 JSON；之后的错误写入 X-Dealer-Error trailer
func (api *API) handleSend(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dest, ok := api.destination(w, r)
	if !ok {
		return
	}
	overrides, err := ParseOverrides(r)
	if err != nil {
		api.observe(dest, http.StatusBadRequest, start)
		response.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	body := io.Reader(r.Body)
	if api.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, api.maxBody)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		api.observe(dest, http.StatusBadRequest, start)
		response.BadRequest("failed to read request body: " + err.Error()).WriteJSON(w)
		return
	}

	stream, err := api.gw.SendWith(r.Context(), dest, payload, overrides)
	if err != nil {
		api.fail(w, dest, err, start)
		return
	}
	defer stream.Release()

	// 首块决定响应状态
	first, err := stream.Next(r.Context())
	if err != nil {
		api.fail(w, dest, err, start)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Dealer-Request", stream.ID())
	w.Header().Set("Trailer", "X-Dealer-Chunks, X-Dealer-Error")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	chunks := 0
	result := first
	for !result.IsEnd() {
		chunks++
		if _, err := w.Write(result.Data); err != nil {
			logrus.Debugf("Client for %s went away: %v", stream, err)
			api.observe(dest, http.StatusOK, start)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if result, err = stream.Next(r.Context()); err != nil {
			w.Header().Set("X-Dealer-Error", err.Error())
			break
		}
	}
	w.Header().Set("X-Dealer-Chunks", strconv.Itoa(chunks))
	api.observe(dest, http.StatusOK, start)
}

// handleStream 通过 WebSocket 转发：第一条消息为请求内容，
// 每个响应块一条二进制消息，正常结束发送 1000 关闭帧，失败发送 1011 关闭帧
func (api *API) handleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dest, ok := api.destination(w, r)
	if !ok {
		return
	}
	overrides, err := ParseOverrides(r)
	if err != nil {
		response.BadRequest(err.Error()).WriteJSON(w)
		return
	}

	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("WebSocket upgrade failed for %s: %v", dest, err)
		return
	}
	defer conn.Close()
	if api.maxBody > 0 {
		conn.SetReadLimit(api.maxBody)
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		logrus.Debugf("WebSocket client for %s closed before sending: %v", dest, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := api.gw.SendWith(ctx, dest, payload, overrides)
	if err != nil {
		api.closeWith(conn, websocket.CloseInternalServerErr, err)
		api.observe(dest, response.StatusFor(err), start)
		return
	}
	defer stream.Release()

	// 客户端断开时停止等待，Release 放弃在途请求
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			if ctx.Err() == nil {
				api.closeWith(conn, websocket.CloseInternalServerErr, err)
			}
			api.observe(dest, response.StatusFor(err), start)
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			logrus.Debugf("WebSocket write for %s failed: %v", stream, err)
			return
		}
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of stream"),
		time.Now().Add(time.Second))
	api.observe(dest, http.StatusOK, start)
}

func (api *API) destination(w http.ResponseWriter, r *http.Request) (dealer.Destination, bool) {
	vars := mux.Vars(r)
	dest := dealer.Destination{Service: vars["service"], Handle: vars["handle"]}
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && !claims.Allows(dest.Service) {
		response.Forbidden(fmt.Sprintf("token does not grant access to service %s", dest.Service)).WriteJSON(w)
		return dest, false
	}
	return dest, true
}

func (api *API) fail(w http.ResponseWriter, dest dealer.Destination, err error, start time.Time) {
	logrus.Warnf("Proxy request to %s failed: %v", dest, err)
	resp := response.FromError(err)
	api.observe(dest, resp.Code, start)
	resp.WriteJSON(w)
}

func (api *API) closeWith(conn *websocket.Conn, code int, err error) {
	reason := dealer.Category(err) + ": " + err.Error()
	// 关闭帧的 reason 最长 123 字节
	if len(reason) > 123 {
		reason = reason[:123]
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func (api *API) observe(dest dealer.Destination, status int, start time.Time) {
	if api.recorder != nil {
		api.recorder.ObserveProxy(dest.Service, strconv.Itoa(status), time.Since(start).Seconds())
	}
}

// ParseOverrides 从查询参数读取策略覆盖项，时间以秒为单位
func ParseOverrides(r *http.Request) (*dealer.PolicyOverrides, error) {
	q := r.URL.Query()
	o := &dealer.PolicyOverrides{}

	if v := q.Get("urgent"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid urgent %q", v)
		}
		o.Urgent = &b
	}
	for name, dst := range map[string]**time.Duration{"deadline": &o.Deadline, "timeout": &o.Timeout} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("invalid %s %q", name, v)
		}
		d := time.Duration(secs * float64(time.Second))
		*dst = &d
	}
	if v := q.Get("max_retries"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid max_retries %q", v)
		}
		o.MaxRetries = &n
	}
	return o, nil
}
