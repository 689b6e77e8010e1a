package models

// MongoDbCollection is the name of a collection in the keeper database.
type MongoDbCollection string
