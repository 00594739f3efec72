package natshandler

import (
	"context"
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"browserengine/model"
	"browserengine/service"
)

// SubjectExecute is the request/reply subject for synchronous automation runs.
const SubjectExecute = "browser.execute.request"

// HandleExecuteRequest runs one automation job for a NATS request and replies
// with the terminal outcome.
func HandleExecuteRequest(msg *nats.Msg, nc *nats.Conn, svc *service.AutomationService) {
	var req model.SubmitRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Printf("Failed to parse automation request: %v", err)
		reply(nc, msg, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Invalid Request Format",
		})
		return
	}

	resp, err := svc.Run(context.Background(), req)
	if err != nil {
		reply(nc, msg, model.ErrorResponse{
			Error:         err.Error(),
			StatusMessage: "Job Rejected",
		})
		return
	}
	reply(nc, msg, resp)
}

func reply(nc *nats.Conn, msg *nats.Msg, payload any) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(payload)
	nc.Publish(msg.Reply, data)
}
