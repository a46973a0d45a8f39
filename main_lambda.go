//go:build lambda

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

var jsonHeader = map[string]string{
	"Content-Type": "application/json",
}

type lambdaHandler struct {
	srv *Server
}

func (h *lambdaHandler) handle(ctx context.Context, event events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return errResp(400, "invalid base64 body")
		}
		body = string(decoded)
	}

	req, err := parseOptimizeRequest(body, h.srv.cfg)
	if err != nil {
		return errResp(statusFor(err), err.Error())
	}
	resp, err := h.srv.run(ctx, req, nil)
	if err != nil {
		h.srv.logger.Error("optimize failed", zap.Error(err))
		return errResp(statusFor(err), err.Error())
	}
	respJSON, _ := json.Marshal(resp)
	return events.LambdaFunctionURLResponse{StatusCode: 200, Headers: jsonHeader, Body: string(respJSON)}, nil
}

func errResp(code int, msg string) (events.LambdaFunctionURLResponse, error) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return events.LambdaFunctionURLResponse{StatusCode: code, Headers: jsonHeader, Body: string(body)}, nil
}

func main() {
	cfg := DefaultConfig()
	if path := os.Getenv("SLATE_OPTIMIZER_CONFIG"); path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			panic(err)
		}
		cfg = loaded
	}
	// function URLs have no writable archive directory
	cfg.HistoryDir = ""
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	h := &lambdaHandler{srv: NewServer(cfg, logger)}
	lambda.Start(h.handle)
}
