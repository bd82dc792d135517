package commands

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
)

func newLambdaCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run the agent behind API Gateway on AWS Lambda",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			a.log.Info().Msg("starting lambda handler")
			lambda.Start(a.handler.Handle)
			return nil
		},
	}
}
