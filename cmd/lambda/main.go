package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"chat-relay/cmd/internal/bootstrap"
)

func main() {
	logger, _ := bootstrap.Logger()
	h, _ := bootstrap.MustHandler(context.Background(), logger)

	lambda.Start(h.HandleLambda)
}
